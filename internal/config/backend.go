package config

import (
	"fmt"
	"strings"
)

// Execution providers accepted for the "backend" setting. Only the CPU
// provider is wired to ONNX Runtime today; the others are accepted so that
// host applications can pass their platform preference through unchanged.
const (
	BackendCPU     = "cpu"
	BackendCoreML  = "coreml"
	BackendNNAPI   = "nnapi"
	BackendCUDA    = "cuda"
	BackendXNNPACK = "xnnpack"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendCPU
	}
	switch backend {
	case BackendCPU, BackendCoreML, BackendNNAPI, BackendCUDA, BackendXNNPACK:
		return backend, nil
	case "ane", "metal":
		return BackendCoreML, nil
	case "gpu":
		return BackendCUDA, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s|%s|%s|%s)",
			raw,
			BackendCPU,
			BackendCoreML,
			BackendNNAPI,
			BackendCUDA,
			BackendXNNPACK,
		)
	}
}
