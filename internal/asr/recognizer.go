// Package asr implements streaming speech recognition over a CTC encoder
// graph. A Recognizer holds the loaded model and is shared read-only by
// any number of Streams; each Stream carries the state of one utterance.
package asr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/tokenizer"
)

// EncoderGraph is the manifest name of the acoustic model.
const EncoderGraph = "asr_encoder"

var errRecognizerClosed = fmt.Errorf("recognizer closed: %w", status.ErrInvalidHandle)

// Recognizer is an immutable loaded model. The graphs are released once the
// recognizer and every stream created from it are closed.
type Recognizer struct {
	cfg     config.ASRConfig
	graphs  *onnx.Graphs
	symbols *tokenizer.SymbolTable
	chunk   int

	mu     sync.Mutex
	refs   int
	closed bool
}

// NewRecognizer loads the recognizer in modelDir. configJSON may be empty;
// see config.ParseRecognizerOptions for the recognized keys.
func NewRecognizer(modelDir, configJSON string, load onnx.Loader) (*Recognizer, error) {
	l, err := model.Discover(modelDir)
	if err != nil {
		return nil, fmt.Errorf("recognizer model: %v: %w", err, status.ErrModelLoadFailed)
	}

	var m *onnx.Manifest
	defaults := config.DefaultASRConfig()
	if l.Manifest != "" {
		if m, err = l.LoadManifest("", onnx.Metadata{}); err != nil {
			return nil, fmt.Errorf("recognizer manifest: %v: %w", err, status.ErrModelLoadFailed)
		}
		if m.Metadata.SampleRate > 0 {
			defaults.SampleRate = m.Metadata.SampleRate
		}
	}

	cfg, err := config.ParseRecognizerOptions(configJSON, defaults)
	if err != nil {
		return nil, fmt.Errorf("recognizer config: %v: %w", err, status.ErrInvalidParams)
	}

	if m == nil {
		m, err = l.LoadManifest(EncoderGraph, onnx.Metadata{SampleRate: cfg.SampleRate, EOSTokenID: -1})
		if err != nil {
			return nil, fmt.Errorf("recognizer manifest: %v: %w", err, status.ErrModelLoadFailed)
		}
	}

	return NewRecognizerFromManifest(m, l.Tokens, cfg, load)
}

// NewRecognizerFromManifest builds a recognizer on an already read manifest,
// as the engine does for its loaded model directory.
func NewRecognizerFromManifest(m *onnx.Manifest, tokensPath string, cfg config.ASRConfig, load onnx.Loader) (*Recognizer, error) {
	if rate := m.Metadata.SampleRate; rate > 0 && rate != cfg.SampleRate {
		return nil, fmt.Errorf("model expects %d Hz, config asks for %d Hz: %w", rate, cfg.SampleRate, status.ErrInvalidParams)
	}

	if !m.Has(EncoderGraph) {
		return nil, fmt.Errorf("model has no %q graph: %w", EncoderGraph, status.ErrModelLoadFailed)
	}

	if tokensPath == "" {
		return nil, fmt.Errorf("model has no %s: %w", tokenizer.SymbolsFile, status.ErrModelLoadFailed)
	}

	symbols, err := tokenizer.LoadSymbolTable(tokensPath)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
	}

	if cfg.BlankID >= symbols.VocabSize() {
		return nil, fmt.Errorf("blank_id %d outside vocabulary of %d: %w", cfg.BlankID, symbols.VocabSize(), status.ErrInvalidParams)
	}

	graphs, err := onnx.OpenGraphs(m, load, EncoderGraph)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
	}

	r := &Recognizer{
		cfg:     cfg,
		graphs:  graphs,
		symbols: symbols,
		chunk:   cfg.SampleRate * cfg.ChunkMS / 1000,
		refs:    1,
	}
	if r.chunk <= 0 {
		graphs.Close()
		return nil, fmt.Errorf("chunk of %d ms at %d Hz is empty: %w", cfg.ChunkMS, cfg.SampleRate, status.ErrInvalidParams)
	}

	slog.Info("recognizer created",
		"model_dir", m.Dir,
		"sample_rate", cfg.SampleRate,
		"chunk_ms", cfg.ChunkMS,
		"vocab", symbols.Len(),
		"endpoint", cfg.EnableEndpoint,
	)

	return r, nil
}

func (r *Recognizer) SampleRate() int { return r.cfg.SampleRate }

// ChunkSamples is the number of samples one Decode step consumes.
func (r *Recognizer) ChunkSamples() int { return r.chunk }

func (r *Recognizer) Config() config.ASRConfig { return r.cfg }

// NewStream creates a stream bound to r. It fails once r is closed.
func (r *Recognizer) NewStream() (*Stream, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}

	s := &Stream{rec: r}
	s.Reset()

	return s, nil
}

// Transcribe decodes a complete mono clip through a private stream.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32) (string, error) {
	s, err := r.NewStream()
	if err != nil {
		return "", err
	}
	defer s.Close()

	if err := s.AcceptWaveform(r.cfg.SampleRate, samples); err != nil {
		return "", err
	}

	s.InputFinished()
	for s.IsReady() {
		if err := s.Decode(ctx); err != nil {
			return "", err
		}
	}

	return s.Result(), nil
}

// Close releases the caller's reference. Streams still open keep the model
// loaded but every call on them reports an invalid handle. Closing twice
// is a no-op.
func (r *Recognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	r.releaseLocked()
}

// Closed reports whether Close was called.
func (r *Recognizer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recognizer) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRecognizerClosed
	}

	r.refs++

	return nil
}

func (r *Recognizer) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Recognizer) releaseLocked() {
	r.refs--
	if r.refs == 0 {
		r.graphs.Close()
		slog.Debug("recognizer released")
	}
}
