// Package doctor provides environment preflight checks for the bridge:
// the ONNX Runtime library and the model directories it will load.
package doctor

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// InspectFunc describes a model directory, or fails when it cannot be loaded.
type InspectFunc func(dir string) (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion bootstraps ONNX Runtime and returns its version.
	RuntimeVersion VersionFunc
	// SkipRuntime skips the runtime check.
	SkipRuntime bool
	// MinAPIVersion is the C API version the purego binding needs. ORT
	// 1.N serves API version N.
	MinAPIVersion uint32
	// ModelDirs are inspected with InspectModel. Empty entries are skipped.
	ModelDirs    []string
	InspectModel InspectFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime -----------------------------------------------------
	switch {
	case cfg.SkipRuntime || cfg.RuntimeVersion == nil:
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	default:
		ver, err := cfg.RuntimeVersion()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not loadable (%v)\n", FailMark, err)
		} else if verErr := checkRuntimeVersion(ver, cfg.MinAPIVersion); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	// ---- model directories ------------------------------------------------
	for _, dir := range cfg.ModelDirs {
		if dir == "" || cfg.InspectModel == nil {
			continue
		}

		desc, err := cfg.InspectModel(dir)
		if err != nil {
			res.fail(fmt.Sprintf("model %q: %v", dir, err))
			fmt.Fprintf(w, "%s model %s: %v\n", FailMark, dir, err)
		} else {
			fmt.Fprintf(w, "%s model %s: %s\n", PassMark, dir, desc)
		}
	}

	return res
}

// checkRuntimeVersion returns an error unless ver is a 1.x release new
// enough for minAPI. An unknown version passes; the library loaded.
func checkRuntimeVersion(ver string, minAPI uint32) error {
	if ver == "" || ver == "unknown" {
		return nil
	}

	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minAPI > 0 && uint32(minor) < minAPI {
		return fmt.Errorf("requires ONNX Runtime >=1.%d, got 1.%d", minAPI, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
