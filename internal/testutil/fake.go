package testutil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/example/go-onnx-bridge/internal/onnx"
)

// Graph names of the synthetic model directories.
const (
	ASRGraph = "asr_encoder"
	TTSGraph = "tts_vits"
	LLMGraph = "llm_decoder"
)

// RunFunc is the body of a fake graph.
type RunFunc func(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)

// FakeRunner is an onnx.GraphRunner backed by a RunFunc.
type FakeRunner struct {
	name  string
	fn    RunFunc
	fakes *Fakes
}

func (f *FakeRunner) Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	f.fakes.mu.Lock()
	f.fakes.runs[f.name]++
	fn := f.fn
	if o, ok := f.fakes.overrides[f.name]; ok {
		fn = o
	}
	f.fakes.mu.Unlock()

	return fn(ctx, inputs)
}

func (f *FakeRunner) Name() string { return f.name }

func (f *FakeRunner) Close() {
	f.fakes.mu.Lock()
	f.fakes.closed[f.name]++
	f.fakes.mu.Unlock()
}

// Fakes hands out fake runners for the synthetic graphs and counts how
// often they are opened, run and closed.
type Fakes struct {
	mu        sync.Mutex
	opened    map[string]int
	closed    map[string]int
	runs      map[string]int
	overrides map[string]RunFunc
	failOpen  map[string]error
}

func NewFakes() *Fakes {
	return &Fakes{
		opened:    map[string]int{},
		closed:    map[string]int{},
		runs:      map[string]int{},
		overrides: map[string]RunFunc{},
		failOpen:  map[string]error{},
	}
}

// Loader returns an onnx.Loader serving the default fake of each graph.
func (f *Fakes) Loader() onnx.Loader {
	return func(g onnx.Graph) (onnx.GraphRunner, error) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if err := f.failOpen[g.Name]; err != nil {
			return nil, err
		}

		var fn RunFunc
		switch g.Name {
		case ASRGraph:
			fn = ASREncoder
		case TTSGraph:
			fn = VITS
		case LLMGraph:
			fn = Decoder
		default:
			return nil, fmt.Errorf("no fake for graph %q", g.Name)
		}

		f.opened[g.Name]++

		return &FakeRunner{name: g.Name, fn: fn, fakes: f}, nil
	}
}

// Override replaces the body of a graph for runners already open and
// opened later.
func (f *Fakes) Override(name string, fn RunFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[name] = fn
}

// FailOpen makes the loader reject a graph.
func (f *Fakes) FailOpen(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOpen[name] = err
}

func (f *Fakes) Opened(name string) int { f.mu.Lock(); defer f.mu.Unlock(); return f.opened[name] }
func (f *Fakes) Closed(name string) int { f.mu.Lock(); defer f.mu.Unlock(); return f.closed[name] }
func (f *Fakes) Runs(name string) int   { f.mu.Lock(); defer f.mu.Unlock(); return f.runs[name] }

// Live reports runners opened and not yet closed, across all graphs.
func (f *Fakes) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for name, opened := range f.opened {
		n += opened - f.closed[name]
	}

	return n
}

// Failing returns a RunFunc that always fails with err.
func Failing(err error) RunFunc {
	return func(context.Context, map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		return nil, err
	}
}

// --- ASR ---

// ASRFrame is the encoder subsampling of the fake recognizer, in samples.
const ASRFrame = 160

// ASRLevel is the amplitude step between token ids of the fake recognizer.
const ASRLevel = 0.025

// ASREncoder maps every ASRFrame samples to one logit row. The token is
// the peak amplitude of the frame divided by ASRLevel, so silence decodes
// to blank (id 0).
func ASREncoder(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	samples, err := inputs["samples"].Float32s()
	if err != nil {
		return nil, err
	}

	frames := len(samples) / ASRFrame
	logits := make([]float32, frames*ASRVocab)
	for f := range frames {
		var peak float64
		for _, s := range samples[f*ASRFrame : (f+1)*ASRFrame] {
			peak = max(peak, math.Abs(float64(s)))
		}

		id := min(int(math.Round(peak/ASRLevel)), ASRVocab-1)
		logits[f*ASRVocab+id] = 1
	}

	out, err := onnx.NewTensor(logits, []int64{1, int64(frames), ASRVocab})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"logits": out}, nil
}

// --- TTS ---

// VITSSamplesPerToken is the fake synthesizer output length per input token
// at length_scale 1.
const VITSSamplesPerToken = 256

// VITS emits VITSSamplesPerToken*length_scale samples per token. The
// waveform alternates sign with an amplitude of (sid+1)/100.
func VITS(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	x, err := inputs["x"].Int64s()
	if err != nil {
		return nil, err
	}

	lengthScale, err := inputs["length_scale"].Float32s()
	if err != nil {
		return nil, err
	}

	sid, err := inputs["sid"].Int64s()
	if err != nil {
		return nil, err
	}

	for _, name := range []string{"x_length", "noise_scale", "noise_scale_w"} {
		if inputs[name] == nil {
			return nil, fmt.Errorf("missing input %q", name)
		}
	}

	if len(x) == 0 {
		return nil, errors.New("empty token sequence")
	}

	n := int(math.Round(float64(len(x)) * VITSSamplesPerToken * float64(lengthScale[0])))
	amp := float32(sid[0]+1) / 100
	y := make([]float32, n)
	for i := range y {
		y[i] = amp
		if i%2 == 1 {
			y[i] = -amp
		}
	}

	out, err := onnx.NewTensor(y, []int64{1, 1, int64(n)})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"y": out}, nil
}

// --- LLM ---

// Decoder predicts, at every position, the id after the input id there.
// The last symbol of the vocabulary is followed by EOS.
func Decoder(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	ids, err := inputs["input_ids"].Int64s()
	if err != nil {
		return nil, err
	}

	vocab := int64(len(llmSymbols))
	logits := make([]float32, len(ids)*int(vocab))
	for i, id := range ids {
		next := id + 1
		if next >= vocab || next <= LLMEOS {
			next = LLMEOS
		}
		logits[int64(i)*vocab+next] = 10
	}

	out, err := onnx.NewTensor(logits, []int64{1, int64(len(ids)), vocab})
	if err != nil {
		return nil, err
	}

	return map[string]*onnx.Tensor{"logits": out}, nil
}
