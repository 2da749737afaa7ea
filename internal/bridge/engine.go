package bridge

import (
	"context"
	"fmt"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/status"
)

var errNilConfig = fmt.Errorf("audio config is nil: %w", status.ErrInvalidParams)

// Create returns a new uninitialized engine, or handle.Null when the
// handle table is full.
func (b *Bridge) Create() handle.Handle {
	s := engine.New(b.engineOpts...)

	h, err := b.engines.Create(s)
	if err != nil {
		code("create", err)
		return handle.Null
	}

	return h
}

func (b *Bridge) Initialize(h handle.Handle, configJSON string) status.Code {
	s, err := b.engines.Get(h)
	if err != nil {
		return code("initialize", err)
	}

	return code("initialize", s.Initialize(configJSON))
}

func (b *Bridge) LoadModel(h handle.Handle, modelPath string) status.Code {
	s, err := b.engines.Get(h)
	if err != nil {
		return code("load_model", err)
	}

	return code("load_model", s.LoadModel(modelPath))
}

// IsModelLoaded is false for an invalid handle.
func (b *Bridge) IsModelLoaded(h handle.Handle) bool {
	s, err := b.engines.Get(h)
	if err != nil {
		return false
	}

	return s.IsModelLoaded()
}

// Destroy closes the engine. Destroying the null handle is a no-op; a
// second destroy reports status.InvalidHandle.
func (b *Bridge) Destroy(h handle.Handle) status.Code {
	s, err := b.engines.Destroy(h)
	if err != nil {
		return code("destroy", err)
	}
	if s != nil {
		s.Close()
	}

	return status.Success
}

func (b *Bridge) SetModality(h handle.Handle, m engine.Modality) status.Code {
	s, err := b.engines.Get(h)
	if err != nil {
		return code("set_modality", err)
	}

	return code("set_modality", s.SetModality(m))
}

// GetModality returns -1 with the code when h is invalid.
func (b *Bridge) GetModality(h handle.Handle) (engine.Modality, status.Code) {
	s, err := b.engines.Get(h)
	if err != nil {
		return -1, code("get_modality", err)
	}

	return s.Modality(), status.Success
}

// Transcribe returns the transcription JSON.
func (b *Bridge) Transcribe(ctx context.Context, h handle.Handle, data []byte, cfg *audio.Config, language string) (string, status.Code) {
	s, err := b.engines.Get(h)
	if err != nil {
		return "", code("transcribe", err)
	}
	if cfg == nil {
		return "", code("transcribe", errNilConfig)
	}

	out, err := s.Transcribe(ctx, data, *cfg, language)
	if err != nil {
		return "", code("transcribe", err)
	}

	return out, status.Success
}

// Synthesize returns the encoded audio in a buffer the caller releases
// with FreeAudioData, and its duration in milliseconds.
func (b *Bridge) Synthesize(ctx context.Context, h handle.Handle, text, voiceID string, cfg *audio.Config, rate, pitch float32) (*Buffer, float64, status.Code) {
	s, err := b.engines.Get(h)
	if err != nil {
		return nil, 0, code("synthesize", err)
	}
	if cfg == nil {
		return nil, 0, code("synthesize", errNilConfig)
	}

	data, ms, err := s.Synthesize(ctx, text, voiceID, *cfg, float64(rate), float64(pitch))
	if err != nil {
		return nil, 0, code("synthesize", err)
	}

	buf, err := b.newBuffer(&Buffer{Bytes: data})
	if err != nil {
		return nil, 0, code("synthesize", err)
	}

	return buf, float64(ms), status.Success
}

// GenerateText returns the generation result JSON.
func (b *Bridge) GenerateText(ctx context.Context, h handle.Handle, messagesJSON, systemPrompt string, maxTokens int, temperature float32) (string, status.Code) {
	s, err := b.engines.Get(h)
	if err != nil {
		return "", code("generate_text", err)
	}

	out, err := s.GenerateText(ctx, messagesJSON, systemPrompt, maxTokens, float64(temperature))
	if err != nil {
		return "", code("generate_text", err)
	}

	return out, status.Success
}

// GenerateTextStream calls onToken for every token before it returns. A
// nil callback is a usage error.
func (b *Bridge) GenerateTextStream(ctx context.Context, h handle.Handle, messagesJSON, systemPrompt string, maxTokens int, temperature float32, onToken func(token string)) status.Code {
	s, err := b.engines.Get(h)
	if err != nil {
		return code("generate_text_stream", err)
	}
	if onToken == nil {
		return code("generate_text_stream", fmt.Errorf("callback is nil: %w", status.ErrInvalidParams))
	}

	_, err = s.GenerateTextStream(ctx, messagesJSON, systemPrompt, maxTokens, float64(temperature), onToken)

	return code("generate_text_stream", err)
}
