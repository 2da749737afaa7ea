package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/llm"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/telemetry"
)

// Synthesis parameter ranges.
const (
	MinRate  = 0.25
	MaxRate  = 4.0
	MinPitch = -12.0
	MaxPitch = 12.0
)

// Transcription is the JSON document Transcribe returns.
type Transcription struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	DurationMS int64  `json:"duration_ms"`
	NumSamples int    `json:"num_samples"`
}

// Transcribe decodes a complete audio payload. The payload's sample rate
// must match the recognizer's.
func (s *Session) Transcribe(ctx context.Context, data []byte, cfg audio.Config, language string) (_ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.ready(VoiceToText)
	if err != nil {
		return "", err
	}
	if m.asr == nil {
		return "", fmt.Errorf("model %s has no speech recognizer: %w", m.dir, status.ErrInvalidParams)
	}

	clip, err := audio.Decode(data, cfg)
	if err != nil {
		return "", err
	}
	if clip.SampleRate != m.asr.SampleRate() {
		return "", fmt.Errorf("audio at %d Hz, recognizer expects %d Hz: %w",
			clip.SampleRate, m.asr.SampleRate(), status.ErrInvalidParams)
	}

	ctx, done := telemetry.Default().Track(ctx, "engine.transcribe", attribute.Int("samples", len(clip.Samples)))
	defer func() { done(err) }()

	text, err := m.asr.Transcribe(ctx, clip.Samples)
	if err != nil {
		return "", inferenceErr(err)
	}

	if language == "" {
		language = m.language
	}

	out, err := json.Marshal(Transcription{
		Text:       text,
		Language:   language,
		DurationMS: clip.DurationMS(),
		NumSamples: len(clip.Samples),
	})
	if err != nil {
		return "", fmt.Errorf("encode transcription: %w", err)
	}

	s.log.Debug("transcribed", "samples", len(clip.Samples), "chars", len(text))

	return string(out), nil
}

// Synthesize renders text in the container described by cfg and returns
// the bytes with the audio duration in milliseconds. voiceID is a decimal
// speaker index; empty selects the configured default. rate scales speaking
// speed and pitch shifts by semitones.
func (s *Session) Synthesize(ctx context.Context, text, voiceID string, cfg audio.Config, rate, pitch float64) (_ []byte, _ int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.ready(TextToVoice)
	if err != nil {
		return nil, 0, err
	}
	if m.tts == nil {
		return nil, 0, fmt.Errorf("model %s has no speech synthesizer: %w", m.dir, status.ErrInvalidParams)
	}

	speaker, err := parseVoice(voiceID, m.tts.DefaultSpeaker())
	if err != nil {
		return nil, 0, err
	}

	if math.IsNaN(rate) || rate < MinRate || rate > MaxRate {
		return nil, 0, fmt.Errorf("rate %v outside [%v, %v]: %w", rate, MinRate, MaxRate, status.ErrInvalidParams)
	}
	if math.IsNaN(pitch) || pitch < MinPitch || pitch > MaxPitch {
		return nil, 0, fmt.Errorf("pitch %v outside [%v, %v]: %w", pitch, MinPitch, MaxPitch, status.ErrInvalidParams)
	}

	out, err := audio.OutputConfig(cfg, m.tts.SampleRate())
	if err != nil {
		return nil, 0, err
	}

	ctx, done := telemetry.Default().Track(ctx, "engine.synthesize",
		attribute.Int("speaker", speaker),
		attribute.Float64("rate", rate),
		attribute.Float64("pitch", pitch),
	)
	defer func() { done(err) }()

	// Synthesizing slower by the pitch factor and resampling back up keeps
	// the duration set by rate.
	factor := math.Pow(2, pitch/12)
	res, err := m.tts.Generate(ctx, text, speaker, rate/factor)
	if err != nil {
		return nil, 0, inferenceErr(err)
	}

	clip := res.Clip()
	if clip.Samples, err = audio.Resample(clip.Samples, factor); err != nil {
		return nil, 0, err
	}

	data, err := audio.Encode(clip, out)
	if err != nil {
		return nil, 0, err
	}

	return data, clip.DurationMS(), nil
}

func parseVoice(voiceID string, fallback int) (int, error) {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return fallback, nil
	}

	id, err := strconv.Atoi(voiceID)
	if err != nil {
		return 0, fmt.Errorf("voice id %q is not a speaker index: %w", voiceID, status.ErrInvalidParams)
	}

	return id, nil
}

// GenerateText answers a chat conversation and returns the llm.Result as
// JSON. messagesJSON is an array of {"role","content"} objects.
func (s *Session) GenerateText(ctx context.Context, messagesJSON, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	return s.GenerateTextStream(ctx, messagesJSON, systemPrompt, maxTokens, temperature, nil)
}

// GenerateTextStream is GenerateText with every token passed to onToken as
// soon as it is produced. It returns after the last token. A failure after
// some tokens were delivered is reported as an error; those tokens stand.
func (s *Session) GenerateTextStream(ctx context.Context, messagesJSON, systemPrompt string, maxTokens int, temperature float64, onToken func(token string)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.ready(TextToText)
	if err != nil {
		return "", err
	}
	if m.llm == nil {
		return "", fmt.Errorf("model %s has no text decoder: %w", m.dir, status.ErrInvalidParams)
	}

	msgs, err := llm.ParseMessages(messagesJSON)
	if err != nil {
		return "", err
	}

	res, err := m.llm.Generate(ctx, llm.Request{
		Messages:     msgs,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	}, onToken)
	if err != nil {
		s.log.Warn("generation failed", "tokens", res.TokensGenerated, "error", err)
		return "", inferenceErr(err)
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode generation result: %w", err)
	}

	return string(out), nil
}

// inferenceErr classifies errors the models return without a code.
func inferenceErr(err error) error {
	if status.CodeOf(err) == status.Unknown {
		return fmt.Errorf("%v: %w", err, status.ErrInferenceFailed)
	}

	return err
}
