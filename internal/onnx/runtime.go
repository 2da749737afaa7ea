package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/example/go-onnx-bridge/internal/config"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

type RuntimeInfo struct {
	LibraryPath string
	Version     string
	APIVersion  uint32
	Initialized bool
}

// RunnerConfig returns the settings runners need to attach to this runtime.
func (i RuntimeInfo) RunnerConfig() RunnerConfig {
	return RunnerConfig{LibraryPath: i.LibraryPath, APIVersion: i.APIVersion}
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapMu  sync.Mutex
	bootstrapped = map[string]RuntimeInfo{}
)

// Bootstrap locates the ONNX Runtime library and verifies that it loads.
// Successful results are cached per library path; failures are not, so a
// caller can retry after fixing the environment.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	info, err := DetectRuntime(cfg)
	if err != nil {
		return RuntimeInfo{}, err
	}

	bootstrapMu.Lock()
	defer bootstrapMu.Unlock()

	if cached, ok := bootstrapped[info.LibraryPath]; ok {
		return cached, nil
	}

	if err := probeRuntime(info.LibraryPath, info.APIVersion); err != nil {
		return RuntimeInfo{}, fmt.Errorf("load onnx runtime %q: %w", info.LibraryPath, err)
	}

	info.Initialized = true
	bootstrapped[info.LibraryPath] = info

	return info, nil
}

func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	apiVersion := cfg.APIVersion
	if apiVersion == 0 {
		apiVersion = 23
	}

	path := cfg.ORTLibraryPath
	if path == "" {
		path = os.Getenv("ONNXBRIDGE_ORT_LIB")
	}

	if path == "" {
		path = os.Getenv("ORT_LIBRARY_PATH")
	}

	if path == "" {
		for _, c := range libraryCandidates {
			_, err := os.Stat(c)
			if err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown"}, errors.New("unable to detect ONNX Runtime library path")
	}

	_, err := os.Stat(path)
	if err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown"}, fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := cfg.ORTVersion
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}

	if version == "" {
		version = inferVersionFromPath(path)
	}

	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version, APIVersion: apiVersion}, nil
}

var libraryCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"C:/onnxruntime/lib/onnxruntime.dll",
}

func inferVersionFromPath(path string) string {
	name := filepath.Base(path)
	if m := versionPattern.FindStringSubmatch(name); len(m) == 2 {
		return m[1]
	}

	return ""
}
