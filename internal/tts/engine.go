// Package tts synthesizes speech with a VITS graph. An Engine is immutable
// after loading; every Generate call is independent.
package tts

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/telemetry"
	"github.com/example/go-onnx-bridge/internal/text"
	"github.com/example/go-onnx-bridge/internal/tokenizer"
)

// VITSGraph is the manifest name of the synthesis graph.
const VITSGraph = "tts_vits"

// maxChunkChars bounds the text handed to one graph run.
const maxChunkChars = 240

// Audio is synthesized mono audio.
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration is len(Samples) / SampleRate.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}

	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

func (a Audio) Clip() audio.Clip {
	return audio.Clip{Samples: a.Samples, SampleRate: a.SampleRate}
}

// PCMChunk is the audio of one sentence group.
type PCMChunk struct {
	Samples    []float32
	ChunkIndex int
	Final      bool
}

type Engine struct {
	cfg         config.TTSConfig
	graphs      *onnx.Graphs
	symbols     *tokenizer.SymbolTable
	sampleRate  int
	numSpeakers int
}

// NewEngine loads the synthesizer in modelDir. A directory without a
// manifest may hold a single graph (or model.onnx); its sample rate must
// then come from configJSON.
func NewEngine(modelDir, configJSON string, load onnx.Loader) (*Engine, error) {
	l, err := model.Discover(modelDir)
	if err != nil {
		return nil, fmt.Errorf("tts model: %v: %w", err, status.ErrModelLoadFailed)
	}

	cfg, err := config.ParseTTSOptions(configJSON, config.DefaultTTSConfig())
	if err != nil {
		return nil, fmt.Errorf("tts config: %v: %w", err, status.ErrInvalidParams)
	}

	m, err := l.LoadManifest(VITSGraph, onnx.Metadata{
		SampleRate:  cfg.SampleRate,
		NumSpeakers: cfg.NumSpeakers,
		EOSTokenID:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("tts manifest: %v: %w", err, status.ErrModelLoadFailed)
	}

	return NewEngineFromManifest(m, l.Tokens, cfg, load)
}

// NewEngineFromManifest builds an engine on an already read manifest.
// Non-zero cfg.SampleRate and cfg.NumSpeakers override the metadata.
func NewEngineFromManifest(m *onnx.Manifest, tokensPath string, cfg config.TTSConfig, load onnx.Loader) (*Engine, error) {
	rate := m.Metadata.SampleRate
	if cfg.SampleRate > 0 {
		rate = cfg.SampleRate
	}
	if rate <= 0 {
		return nil, fmt.Errorf("model sample rate unknown; set sample_rate: %w", status.ErrModelLoadFailed)
	}

	speakers := max(m.Metadata.NumSpeakers, 1)
	if cfg.NumSpeakers > 0 {
		speakers = cfg.NumSpeakers
	}

	if !m.Has(VITSGraph) {
		return nil, fmt.Errorf("model has no %q graph: %w", VITSGraph, status.ErrModelLoadFailed)
	}

	if tokensPath == "" {
		return nil, fmt.Errorf("model has no %s: %w", tokenizer.SymbolsFile, status.ErrModelLoadFailed)
	}

	symbols, err := tokenizer.LoadSymbolTable(tokensPath)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
	}

	graphs, err := onnx.OpenGraphs(m, load, VITSGraph)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
	}

	slog.Info("tts engine loaded",
		"model_dir", m.Dir,
		"sample_rate", rate,
		"num_speakers", speakers,
		"symbols", symbols.Len(),
	)

	return &Engine{
		cfg:         cfg,
		graphs:      graphs,
		symbols:     symbols,
		sampleRate:  rate,
		numSpeakers: speakers,
	}, nil
}

func (e *Engine) SampleRate() int { return e.sampleRate }

func (e *Engine) NumSpeakers() int { return e.numSpeakers }

// DefaultSpeaker is the speaker configured for the engine.
func (e *Engine) DefaultSpeaker() int { return e.cfg.Speaker }

// Generate synthesizes text. speed scales the speaking rate; the graph
// receives length_scale = 1/speed.
func (e *Engine) Generate(ctx context.Context, input string, speakerID int, speed float64) (out Audio, err error) {
	ctx, done := telemetry.Default().Track(ctx, "tts.generate", attribute.Int("speaker", speakerID))
	defer func() { done(err) }()

	out = Audio{SampleRate: e.sampleRate}
	for chunk, err := range e.Stream(ctx, input, speakerID, speed) {
		if err != nil {
			return Audio{}, err
		}
		out.Samples = append(out.Samples, chunk.Samples...)
	}

	telemetry.Default().Audio(ctx, "out", out.Duration().Seconds())

	return out, nil
}

// Stream synthesizes text sentence group by sentence group. Arguments are
// validated before the first graph run; a validation error is the only
// item yielded in that case.
func (e *Engine) Stream(ctx context.Context, input string, speakerID int, speed float64) iter.Seq2[PCMChunk, error] {
	return func(yield func(PCMChunk, error) bool) {
		chunks, err := e.prepare(input, speakerID, speed)
		if err != nil {
			yield(PCMChunk{}, err)
			return
		}

		for i, ids := range chunks {
			samples, err := e.run(ctx, ids, speakerID, speed)
			if err != nil {
				yield(PCMChunk{}, err)
				return
			}

			slog.Debug("synthesized chunk", "chunk", i, "tokens", len(ids), "samples", len(samples))

			if !yield(PCMChunk{Samples: samples, ChunkIndex: i, Final: i == len(chunks)-1}, nil) {
				return
			}
		}
	}
}

func (e *Engine) prepare(input string, speakerID int, speed float64) ([][]int64, error) {
	if speakerID < 0 || speakerID >= e.numSpeakers {
		return nil, fmt.Errorf("speaker %d outside [0, %d): %w", speakerID, e.numSpeakers, status.ErrInvalidParams)
	}

	if !(speed > 0) || math.IsInf(speed, 0) {
		return nil, fmt.Errorf("speed must be > 0, got %v: %w", speed, status.ErrInvalidParams)
	}

	normalized, err := text.Normalize(input)
	if err != nil {
		return nil, err
	}

	var chunks [][]int64
	for _, piece := range text.ChunkBySentence(text.CollapseSpace(normalized), maxChunkChars) {
		ids, err := e.symbols.Encode(piece)
		if err != nil {
			return nil, fmt.Errorf("encode text: %v: %w", err, status.ErrInvalidParams)
		}
		if len(ids) > 0 {
			chunks = append(chunks, ids)
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("text has no symbols known to the model: %w", status.ErrInvalidParams)
	}

	return chunks, nil
}

func (e *Engine) run(ctx context.Context, ids []int64, speakerID int, speed float64) ([]float32, error) {
	x, err := onnx.NewTensor(ids, []int64{1, int64(len(ids))})
	if err != nil {
		return nil, fmt.Errorf("vits input: %v: %w", err, status.ErrInferenceFailed)
	}

	inputs := map[string]*onnx.Tensor{
		"x":             x,
		"x_length":      onnx.Scalar(int64(len(ids))),
		"noise_scale":   onnx.Scalar(float32(e.cfg.NoiseScale)),
		"length_scale":  onnx.Scalar(float32(1 / speed)),
		"noise_scale_w": onnx.Scalar(float32(e.cfg.NoiseScaleW)),
		"sid":           onnx.Scalar(int64(speakerID)),
	}

	out, err := e.graphs.Run(ctx, VITSGraph, inputs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("run vits: %v: %w", err, status.ErrInferenceFailed)
	}

	samples, _, err := onnx.Output(out, "y")
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrInferenceFailed)
	}

	return samples, nil
}

// Close releases the graph. Safe to call more than once.
func (e *Engine) Close() {
	e.graphs.Close()
}
