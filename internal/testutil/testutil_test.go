package testutil_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/testutil"
)

func TestRequireONNXRuntime_SkipsWhenAbsent(t *testing.T) {
	t.Setenv("ONNXBRIDGE_ORT_LIB", "/nonexistent/libonnxruntime.so")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireONNXRuntime(fakeT)
	if !skipped {
		t.Error("expected RequireONNXRuntime to skip when library is absent")
	}
}

func TestRequireModelDir_SkipsWhenUnset(t *testing.T) {
	t.Setenv("ONNXBRIDGE_TEST_MODEL_DIR", "")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireModelDir(fakeT, "ONNXBRIDGE_TEST_MODEL_DIR")
	if !skipped {
		t.Error("expected RequireModelDir to skip when env is empty")
	}
}

func TestWriteModel_LoadsThroughFakes(t *testing.T) {
	dir := testutil.WriteModel(t, testutil.ModelSpec{ASR: true, TTS: true, LLM: true})

	l, err := model.Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	m, err := l.LoadManifest("", onnx.Metadata{})
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}

	fakes := testutil.NewFakes()
	graphs, err := onnx.OpenGraphs(m, fakes.Loader(), testutil.ASRGraph, testutil.TTSGraph, testutil.LLMGraph)
	if err != nil {
		t.Fatalf("OpenGraphs: %v", err)
	}

	if fakes.Live() != 3 {
		t.Errorf("Live() = %d; want 3", fakes.Live())
	}

	graphs.Close()
	if fakes.Live() != 0 {
		t.Errorf("Live() after Close = %d; want 0", fakes.Live())
	}
}

func TestASREncoder_UtteranceLevels(t *testing.T) {
	samples := testutil.Utterance("ab")
	in, err := onnx.NewTensor(samples, []int64{1, int64(len(samples))})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	out, err := testutil.ASREncoder(context.Background(), map[string]*onnx.Tensor{"samples": in})
	if err != nil {
		t.Fatalf("ASREncoder: %v", err)
	}

	logits, shape, err := onnx.Output(out, "logits")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}

	if shape[1] != 10 || shape[2] != testutil.ASRVocab {
		t.Fatalf("shape = %v; want [1 10 %d]", shape, testutil.ASRVocab)
	}

	want := []int{2, 2, 2, 2, 0, 3, 3, 3, 3, 0}
	for f, id := range want {
		if logits[f*testutil.ASRVocab+id] != 1 {
			t.Errorf("frame %d: expected token %d", f, id)
		}
	}
}

func TestFakes_FailOpenAndOverride(t *testing.T) {
	fakes := testutil.NewFakes()
	boom := errors.New("boom")
	fakes.FailOpen(testutil.TTSGraph, boom)

	if _, err := fakes.Loader()(onnx.Graph{Name: testutil.TTSGraph}); !errors.Is(err, boom) {
		t.Fatalf("Loader err = %v; want boom", err)
	}

	r, err := fakes.Loader()(onnx.Graph{Name: testutil.LLMGraph})
	if err != nil {
		t.Fatalf("Loader: %v", err)
	}

	fakes.Override(testutil.LLMGraph, testutil.Failing(boom))
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("Run err = %v; want boom", err)
	}

	if fakes.Runs(testutil.LLMGraph) != 1 {
		t.Errorf("Runs = %d; want 1", fakes.Runs(testutil.LLMGraph))
	}
}

// skipTracker is a minimal testing.TB implementation that intercepts Skip calls.
type skipTracker struct {
	testing.TB
	onSkip func()
}

func (s *skipTracker) Helper() {}

func (s *skipTracker) Skip(_ ...any) { s.onSkip() }

func (s *skipTracker) Skipf(_ string, _ ...any) {
	s.onSkip()
	// Do NOT call s.TB.Skip, that would actually skip the outer test.
}
