// Package engine implements the batch session: initialize a runtime, load a
// model directory and run transcription, synthesis or text generation in
// the session's modality.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/go-onnx-bridge/internal/asr"
	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/llm"
	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/tts"
)

var (
	errNotInitialized = fmt.Errorf("session not initialized: %w", status.ErrInvalidParams)
	errNoModel        = fmt.Errorf("no model loaded: %w", status.ErrInvalidParams)
)

// BootstrapFunc brings up the graph runtime for a session.
type BootstrapFunc func(config.RuntimeConfig) (onnx.RuntimeInfo, error)

// LoaderFunc returns the graph loader bound to a bootstrapped runtime.
type LoaderFunc func(onnx.RuntimeInfo) onnx.Loader

type Option func(*Session)

// WithBootstrap replaces onnx.Bootstrap.
func WithBootstrap(fn BootstrapFunc) Option {
	return func(s *Session) { s.bootstrap = fn }
}

// WithLoader replaces the ONNX Runtime graph loader.
func WithLoader(fn LoaderFunc) Option {
	return func(s *Session) { s.newLoader = fn }
}

// WithDefaults sets the configuration payloads are decoded over.
func WithDefaults(cfg config.Config) Option {
	return func(s *Session) { s.defaults = cfg }
}

func defaultLoader(info onnx.RuntimeInfo) onnx.Loader {
	return onnx.ORTLoader(info.RunnerConfig())
}

// Capabilities lists what the loaded model directory provides.
type Capabilities struct {
	ASR bool `json:"asr"`
	TTS bool `json:"tts"`
	LLM bool `json:"llm"`
}

type models struct {
	dir      string
	language string
	asr      *asr.Recognizer
	tts      *tts.Engine
	llm      *llm.Generator
}

func (m *models) close() {
	if m == nil {
		return
	}
	if m.asr != nil {
		m.asr.Close()
	}
	if m.tts != nil {
		m.tts.Close()
	}
	if m.llm != nil {
		m.llm.Close()
	}
}

func (m *models) capabilities() Capabilities {
	if m == nil {
		return Capabilities{}
	}

	return Capabilities{ASR: m.asr != nil, TTS: m.tts != nil, LLM: m.llm != nil}
}

// Session is one engine instance. Calls on a session are serialized.
type Session struct {
	id        string
	bootstrap BootstrapFunc
	newLoader LoaderFunc
	defaults  config.Config

	level *slog.LevelVar
	log   *slog.Logger

	mu       sync.Mutex
	state    State
	modality Modality
	options  config.EngineOptions
	runtime  onnx.RuntimeInfo
	loader   onnx.Loader
	models   *models
}

// New returns an uninitialized session.
func New(opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		bootstrap: onnx.Bootstrap,
		newLoader: defaultLoader,
		defaults:  config.DefaultConfig(),
		level:     new(slog.LevelVar),
	}

	for _, opt := range opts {
		opt(s)
	}

	if lvl, err := config.ParseLogLevel(s.defaults.LogLevel); err == nil {
		s.level.Set(lvl)
	}

	s.log = slog.New(&levelHandler{level: s.level, inner: slog.Default().Handler()}).With("session", s.id)

	return s
}

// ID is the correlation id attached to the session's log records.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsModelLoaded() bool {
	return s.State() == ModelLoaded
}

// Capabilities reports the loaded model's capabilities; all false before
// LoadModel.
func (s *Session) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models.capabilities()
}

// Runtime returns the runtime found by the last successful Initialize.
func (s *Session) Runtime() onnx.RuntimeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

// Initialize decodes configJSON and brings up the runtime. Initializing an
// initialized session discards its model. A failed call leaves the session
// as it was.
func (s *Session) Initialize(configJSON string) error {
	opts, err := config.ParseEngineOptions(configJSON, s.defaults.Runtime, s.defaults.LogLevel)
	if err != nil {
		return fmt.Errorf("engine config: %v: %w", err, status.ErrInvalidParams)
	}

	modality := TextToText
	if opts.DefaultModality != "" {
		if modality, err = ParseModality(opts.DefaultModality); err != nil {
			return err
		}
		if !modality.implemented() {
			return fmt.Errorf("default modality %s: %w", modality, status.ErrNotImplemented)
		}
	}

	rc := s.defaults.Runtime
	rc.Backend = opts.Backend
	rc.Threads = opts.NumThreads
	rc.ORTLibraryPath = opts.ORTLibraryPath
	rc.APIVersion = opts.APIVersion

	info, err := s.bootstrap(rc)
	if err != nil {
		return fmt.Errorf("bootstrap runtime: %v: %w", err, status.ErrInitFailed)
	}

	lvl, _ := config.ParseLogLevel(opts.LogLevel)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.models != nil {
		s.log.Info("re-initializing session, discarding model", "model_dir", s.models.dir)
		s.models.close()
		s.models = nil
	}

	s.level.Set(lvl)
	s.options = opts
	s.runtime = info
	s.loader = s.newLoader(info)
	s.modality = modality
	s.state = Initialized

	if opts.Backend != config.BackendCPU {
		s.log.Warn("execution provider not available in this build, running on cpu", "backend", opts.Backend)
	}

	s.log.Info("session initialized",
		"ort_version", info.Version,
		"ort_library", info.LibraryPath,
		"backend", opts.Backend,
		"threads", opts.NumThreads,
		"modality", modality.String(),
	)

	return nil
}

// LoadModel opens every graph the model directory at path provides. The
// previous model stays loaded when this fails.
func (s *Session) LoadModel(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return errNotInitialized
	}

	loaded, err := s.openModels(path)
	if err != nil {
		if status.CodeOf(err) != status.ModelLoadFailed {
			err = fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
		}
		s.log.Warn("model load failed", "path", path, "error", err)
		return err
	}

	s.models.close()
	s.models = loaded
	s.state = ModelLoaded

	s.log.Info("model loaded", "model_dir", loaded.dir, "capabilities", loaded.capabilities())

	return nil
}

func (s *Session) openModels(path string) (*models, error) {
	l, err := model.Discover(path)
	if err != nil {
		return nil, err
	}

	m, err := l.LoadManifest("", onnx.Metadata{})
	if err != nil {
		return nil, err
	}

	loaded := &models{dir: l.Dir, language: m.Metadata.Language}

	if m.Has(asr.EncoderGraph) {
		defaults := s.defaults.ASR
		if m.Metadata.SampleRate > 0 {
			defaults.SampleRate = m.Metadata.SampleRate
		}

		if loaded.asr, err = asr.NewRecognizerFromManifest(m, l.Tokens, defaults, s.loader); err != nil {
			loaded.close()
			return nil, err
		}
	}

	if m.Has(tts.VITSGraph) {
		if loaded.tts, err = tts.NewEngineFromManifest(m, l.Tokens, s.defaults.TTS, s.loader); err != nil {
			loaded.close()
			return nil, err
		}
	}

	if m.Has(llm.DecoderGraph) {
		if loaded.llm, err = llm.NewGeneratorFromManifest(m, l, s.loader); err != nil {
			loaded.close()
			return nil, err
		}
	}

	if loaded.capabilities() == (Capabilities{}) {
		return nil, fmt.Errorf("%s provides none of %s, %s, %s: %w",
			l.Dir, asr.EncoderGraph, tts.VITSGraph, llm.DecoderGraph, status.ErrModelLoadFailed)
	}

	return loaded, nil
}

// SetModality selects the operation family. Image modalities have no
// implementation.
func (s *Session) SetModality(m Modality) error {
	if !m.valid() {
		return fmt.Errorf("unknown modality %d: %w", int32(m), status.ErrInvalidParams)
	}
	if !m.implemented() {
		return fmt.Errorf("modality %s: %w", m, status.ErrNotImplemented)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Uninitialized {
		return errNotInitialized
	}

	s.modality = m
	s.log.Debug("modality set", "modality", m.String())

	return nil
}

func (s *Session) Modality() Modality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modality
}

// ready checks that the session can run an operation of modality want and
// returns the loaded models. Callers hold s.mu.
func (s *Session) ready(want Modality) (*models, error) {
	switch {
	case s.state == Uninitialized:
		return nil, errNotInitialized
	case !s.modality.allows(want):
		return nil, fmt.Errorf("operation needs %s, session is %s: %w", want, s.modality, status.ErrInvalidParams)
	case s.state != ModelLoaded:
		return nil, errNoModel
	}

	return s.models, nil
}

// Close releases the loaded model and returns the session to its
// uninitialized state. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.models != nil {
		s.models.close()
		s.models = nil
		s.log.Info("session closed")
	}

	s.state = Uninitialized
	s.loader = nil
}
