// Package llm generates text token by token with a decoder graph. Stream
// yields one token per step; Drive adapts the sequence to a per-token
// callback, which is how the boundary delivers tokens.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/telemetry"
	"github.com/example/go-onnx-bridge/internal/tokenizer"
)

// DecoderGraph is the manifest name of the text decoder.
const DecoderGraph = "llm_decoder"

// Request describes one generation.
type Request struct {
	Messages     []Message
	SystemPrompt string
	// MaxTokens bounds the number of generated tokens. Zero generates
	// nothing.
	MaxTokens int
	// Temperature 0 selects greedy decoding.
	Temperature float64
	// Seed makes sampling reproducible when set.
	Seed *uint64
}

func (r Request) validate() error {
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0, got %d: %w", r.MaxTokens, status.ErrInvalidParams)
	}

	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) || r.Temperature < 0 {
		return fmt.Errorf("temperature must be a finite value >= 0, got %v: %w", r.Temperature, status.ErrInvalidParams)
	}

	return nil
}

type Generator struct {
	graphs     *onnx.Graphs
	encoder    tokenizer.Tokenizer
	symbols    *tokenizer.SymbolTable
	eos        int64
	maxContext int
}

// NewGenerator loads the decoder in modelDir.
func NewGenerator(modelDir string, load onnx.Loader) (*Generator, error) {
	l, err := model.Discover(modelDir)
	if err != nil {
		return nil, fmt.Errorf("llm model: %v: %w", err, status.ErrModelLoadFailed)
	}

	m, err := l.LoadManifest(DecoderGraph, onnx.Metadata{EOSTokenID: -1})
	if err != nil {
		return nil, fmt.Errorf("llm manifest: %v: %w", err, status.ErrModelLoadFailed)
	}

	return NewGeneratorFromManifest(m, l, load)
}

// NewGeneratorFromManifest builds a generator on an already read manifest.
// Prompts are encoded with tokenizer.model when the layout has one and
// with tokens.txt otherwise; output ids are always rendered with tokens.txt.
func NewGeneratorFromManifest(m *onnx.Manifest, l model.Layout, load onnx.Loader) (*Generator, error) {
	if !m.Has(DecoderGraph) {
		return nil, fmt.Errorf("model has no %q graph: %w", DecoderGraph, status.ErrModelLoadFailed)
	}

	if l.Tokens == "" {
		return nil, fmt.Errorf("model has no %s: %w", tokenizer.SymbolsFile, status.ErrModelLoadFailed)
	}

	symbols, err := tokenizer.LoadSymbolTable(l.Tokens)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
	}

	var enc tokenizer.Tokenizer = symbols
	if l.Tokenizer != "" {
		sp, err := tokenizer.NewSentencePieceTokenizer(l.Tokenizer)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
		}
		enc = sp
	}

	eos := m.Metadata.EOSTokenID
	if eos < 0 {
		if id, ok := symbols.ID("</s>"); ok {
			eos = id
		}
	}

	graphs, err := onnx.OpenGraphs(m, load, DecoderGraph)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrModelLoadFailed)
	}

	slog.Info("text generator loaded",
		"model_dir", m.Dir,
		"vocab", symbols.VocabSize(),
		"eos", eos,
		"max_context", m.Metadata.MaxContext,
		"sentencepiece", l.Tokenizer != "",
	)

	return &Generator{
		graphs:     graphs,
		encoder:    enc,
		symbols:    symbols,
		eos:        eos,
		maxContext: m.Metadata.MaxContext,
	}, nil
}

// EOS is the end-of-sequence id, or -1 when the model has none.
func (g *Generator) EOS() int64 { return g.eos }

// Stream returns the tokens of one generation. The sequence stops after
// EOS, after req.MaxTokens tokens or at the first error, which is yielded
// as the last item. It is not restartable: ranging over it twice runs the
// generation twice.
func (g *Generator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := req.validate(); err != nil {
			yield("", err)
			return
		}

		if req.MaxTokens == 0 {
			return
		}

		prompt := RenderPrompt(req.SystemPrompt, req.Messages)
		ids, err := g.encoder.Encode(prompt)
		if err != nil {
			yield("", fmt.Errorf("encode prompt: %v: %w", err, status.ErrInvalidParams))
			return
		}

		if len(ids) == 0 {
			yield("", fmt.Errorf("prompt has no known tokens: %w", status.ErrInvalidParams))
			return
		}

		pick := newSampler(req.Temperature, req.Seed)
		for range req.MaxTokens {
			logits, err := g.step(ctx, ids)
			if err != nil {
				yield("", err)
				return
			}

			next := int64(pick.pick(logits))
			if next == g.eos {
				return
			}

			ids = append(ids, next)
			if !yield(g.symbols.Piece(next), nil) {
				return
			}
		}
	}
}

// Generate runs one generation, delivering each token to onToken as it is
// produced. On failure the partial result is returned with the error.
func (g *Generator) Generate(ctx context.Context, req Request, onToken func(token string)) (Result, error) {
	ctx, done := telemetry.Default().Track(ctx, "llm.generate", attribute.Int("max_tokens", req.MaxTokens))

	res, err := Drive(g.Stream(ctx, req), req.MaxTokens, onToken)
	telemetry.Default().Tokens(ctx, res.TokensGenerated)
	done(err)

	slog.Debug("generation complete",
		"tokens", res.TokensGenerated,
		"finish_reason", res.FinishReason,
	)

	return res, err
}

// step runs the decoder over the context window and returns the logits of
// the last position.
func (g *Generator) step(ctx context.Context, ids []int64) ([]float32, error) {
	window := ids
	if g.maxContext > 0 && len(window) > g.maxContext {
		window = window[len(window)-g.maxContext:]
	}

	in, err := onnx.NewTensor(window, []int64{1, int64(len(window))})
	if err != nil {
		return nil, fmt.Errorf("decoder input: %v: %w", err, status.ErrInferenceFailed)
	}

	out, err := g.graphs.Run(ctx, DecoderGraph, map[string]*onnx.Tensor{"input_ids": in})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("run decoder: %v: %w", err, status.ErrInferenceFailed)
	}

	logits, shape, err := onnx.Output(out, "logits")
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrInferenceFailed)
	}

	if len(shape) == 0 || shape[len(shape)-1] <= 0 || len(logits) < int(shape[len(shape)-1]) {
		return nil, fmt.Errorf("decoder logits shape %v: %w", shape, status.ErrInferenceFailed)
	}

	vocab := int(shape[len(shape)-1])

	return logits[len(logits)-vocab:], nil
}

// Close releases the decoder graph. Safe to call more than once.
func (g *Generator) Close() {
	g.graphs.Close()
}
