// Command onnxbridge-capi builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libonnxbridge.so ./cmd/onnxbridge-capi
//
// Handles cross the boundary as opaque pointers holding registry handles,
// so the library targets 64-bit platforms. Every call runs on the caller's
// thread and blocks until done. Configuration is read once, on the first
// call, from ONNXBRIDGE_* environment variables and an optional
// onnxbridge.{yaml,toml,json} in the working directory.
package main

/*
#include "bridge.h"
*/
import "C"

import (
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"unsafe"

	"github.com/example/go-onnx-bridge/internal/bridge"
	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/status"
)

func main() {}

var (
	apiOnce   sync.Once
	apiBridge *bridge.Bridge
)

// api returns the process-wide bridge, creating it on first use.
func api() *bridge.Bridge {
	apiOnce.Do(func() {
		cfg, err := config.Load(config.LoadOptions{Defaults: config.DefaultConfig()})
		if err != nil {
			cfg = config.DefaultConfig()
			defer slog.Warn("config ignored, using defaults", "error", err)
		}

		lvl, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			lvl = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

		apiBridge = bridge.New(
			bridge.WithRuntimeConfig(cfg.Runtime),
			bridge.WithEngineOptions(engine.WithDefaults(cfg)),
		)
	})

	return apiBridge
}

func toHandle(p unsafe.Pointer) handle.Handle {
	return handle.Handle(uintptr(p))
}

func toPointer(h handle.Handle) unsafe.Pointer {
	if h.IsNull() {
		return nil
	}

	return C.ra_go_handle_ptr(C.uintptr_t(h))
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}

	return C.GoString(s)
}

// recoverCode turns a panic into status.Unknown. Deferred by every export
// that returns a result code.
func recoverCode(op string, rc *C.int) {
	if r := recover(); r != nil {
		slog.Error("panic in bridge call", "op", op, "panic", r, "stack", string(debug.Stack()))
		*rc = C.int(status.Unknown)
	}
}

// recoverVoid logs and swallows a panic in exports without a result code.
// Pointer results keep their zero value.
func recoverVoid(op string) {
	if r := recover(); r != nil {
		slog.Error("panic in bridge call", "op", op, "panic", r, "stack", string(debug.Stack()))
	}
}

func boolInt(v bool) C.int {
	if v {
		return 1
	}

	return 0
}
