package main

import (
	"encoding/json"
	"fmt"

	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/onnx"
)

// Replaced in tests to run commands on fake graphs.
var (
	sessionOptions = func() []engine.Option { return nil }
	graphLoader    = bootstrapLoader
)

// bootstrapLoader brings up ONNX Runtime for commands that build a
// recognizer or TTS engine without an engine session.
func bootstrapLoader(cfg config.Config) (onnx.Loader, error) {
	info, err := onnx.Bootstrap(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	return onnx.ORTLoader(info.RunnerConfig()), nil
}

// openSession initializes an engine session from cfg, loads modelDir and
// selects modality.
func openSession(cfg config.Config, modelDir string, modality engine.Modality) (*engine.Session, error) {
	payload, err := json.Marshal(map[string]any{
		"backend":          cfg.Runtime.Backend,
		"num_threads":      cfg.Runtime.Threads,
		"ort_library_path": cfg.Runtime.ORTLibraryPath,
		"api_version":      cfg.Runtime.APIVersion,
		"log_level":        cfg.LogLevel,
		"default_modality": modality.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode engine config: %w", err)
	}

	opts := append([]engine.Option{engine.WithDefaults(cfg)}, sessionOptions()...)
	s := engine.New(opts...)

	if err := s.Initialize(string(payload)); err != nil {
		return nil, err
	}

	if err := s.LoadModel(modelDir); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}
