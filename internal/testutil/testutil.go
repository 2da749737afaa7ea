// Package testutil provides skip helpers for integration tests and fake
// graph runners that stand in for ONNX Runtime in unit tests.
//
// Typical usage:
//
//	func TestTranscribe(t *testing.T) {
//	    dir := testutil.WriteASRModel(t)
//	    rec, err := asr.NewRecognizer(dir, "", testutil.FakeLoader())
//	    ...
//	}
package testutil

import (
	"os"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ONNXBRIDGE_ORT_LIB env var, then the
// ORT_LIBRARY_PATH env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ONNXBRIDGE_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ONNXBRIDGE_ORT_LIB or ORT_LIBRARY_PATH")

	return ""
}

// RequireModelDir skips the test unless env names an existing directory.
func RequireModelDir(tb testing.TB, env string) string {
	tb.Helper()

	dir := os.Getenv(env)
	if dir == "" {
		tb.Skipf("%s not set", env)
		return ""
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		tb.Skipf("%s=%q is not a directory", env, dir)
		return ""
	}

	return dir
}
