// Package bridge is the flat, handle-based surface of the inference
// sessions. Every function takes and returns primitive values, handles and
// status codes so that a foreign-function layer can forward to it without
// holding Go pointers. Errors are logged here and reduced to codes.
package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/go-onnx-bridge/internal/asr"
	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/telemetry"
	"github.com/example/go-onnx-bridge/internal/tts"
)

// Handle kinds; a handle of one kind never resolves in another table.
const (
	kindEngine uint8 = iota + 1
	kindRecognizer
	kindStream
	kindTTS
	kindBuffer
)

type streamEntry struct {
	stream     *asr.Stream
	recognizer handle.Handle
}

type Option func(*Bridge)

// WithEngineOptions configures every engine session the bridge creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(b *Bridge) { b.engineOpts = append(b.engineOpts, opts...) }
}

// WithLoader sets the graph loader for recognizers and TTS engines. By
// default the ONNX Runtime is bootstrapped on first use.
func WithLoader(load onnx.Loader) Option {
	return func(b *Bridge) { b.load = load }
}

// WithRuntimeConfig sets the runtime bootstrapped for recognizers and TTS
// engines when no loader is given.
func WithRuntimeConfig(cfg config.RuntimeConfig) Option {
	return func(b *Bridge) { b.runtime = cfg }
}

// WithHandleLimit caps the live handles of each table.
func WithHandleLimit(n int) Option {
	return func(b *Bridge) { b.limit = n }
}

type Bridge struct {
	engineOpts []engine.Option
	runtime    config.RuntimeConfig
	limit      int

	loadMu sync.Mutex
	load   onnx.Loader

	engines     *handle.Registry[*engine.Session]
	recognizers *handle.Registry[*asr.Recognizer]
	streams     *handle.Registry[*streamEntry]
	tts         *handle.Registry[*tts.Engine]
	buffers     *handle.Registry[*Buffer]

	unobserve func() error
}

// New returns an empty bridge. Live handle counts are reported through
// the telemetry gauge until Close.
func New(opts ...Option) *Bridge {
	b := &Bridge{runtime: config.DefaultRuntimeConfig()}
	for _, opt := range opts {
		opt(b)
	}

	limit := handle.WithLimit(b.limit)
	b.engines = handle.New[*engine.Session](limit, handle.WithKind(kindEngine))
	b.recognizers = handle.New[*asr.Recognizer](limit, handle.WithKind(kindRecognizer))
	b.streams = handle.New[*streamEntry](limit, handle.WithKind(kindStream))
	b.tts = handle.New[*tts.Engine](limit, handle.WithKind(kindTTS))
	b.buffers = handle.New[*Buffer](handle.WithKind(kindBuffer))

	unobserve, err := telemetry.Default().ObserveLive(b.Live)
	if err != nil {
		slog.Warn("live handle gauge unavailable", "error", err)
	} else {
		b.unobserve = unobserve
	}

	return b
}

// Live returns the number of live handles per kind.
func (b *Bridge) Live() map[string]int64 {
	return map[string]int64{
		"engine":     int64(b.engines.Len()),
		"recognizer": int64(b.recognizers.Len()),
		"stream":     int64(b.streams.Len()),
		"tts":        int64(b.tts.Len()),
		"buffer":     int64(b.buffers.Len()),
	}
}

// Close destroys every live handle and releases its resources. Buffers
// still held by callers become invalid.
func (b *Bridge) Close() {
	for h := range b.streams.Snapshot() {
		b.DestroyStream(h)
	}
	for h := range b.recognizers.Snapshot() {
		b.DestroyRecognizer(h)
	}
	for h := range b.tts.Snapshot() {
		b.TTSDestroy(h)
	}
	for h := range b.engines.Snapshot() {
		b.Destroy(h)
	}
	for h := range b.buffers.Snapshot() {
		_, _ = b.buffers.Destroy(h)
	}

	if b.unobserve != nil {
		if err := b.unobserve(); err != nil {
			slog.Debug("unregister live handle gauge", "error", err)
		}
		b.unobserve = nil
	}
}

// loader returns the graph loader for standalone recognizers and TTS
// engines, bootstrapping the runtime on first use.
func (b *Bridge) loader() (onnx.Loader, error) {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	if b.load != nil {
		return b.load, nil
	}

	info, err := onnx.Bootstrap(b.runtime)
	if err != nil {
		return nil, fmt.Errorf("bootstrap runtime: %v: %w", err, status.ErrInitFailed)
	}

	b.load = onnx.ORTLoader(info.RunnerConfig())

	return b.load, nil
}

// code logs a failed call and returns its status code.
func code(op string, err error) status.Code {
	c := status.CodeOf(err)
	if c != status.Success {
		slog.Warn("bridge call failed", "op", op, "code", c.String(), "error", err)
	}

	return c
}
