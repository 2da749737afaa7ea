package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/llm"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/testutil"
)

// useFakes routes every command onto fake graphs for the test.
func useFakes(t *testing.T) *testutil.Fakes {
	t.Helper()

	fakes := testutil.NewFakes()
	bootstrap := func(cfg config.RuntimeConfig) (onnx.RuntimeInfo, error) {
		return onnx.RuntimeInfo{LibraryPath: "fake", Version: "1.23.0", APIVersion: cfg.APIVersion, Initialized: true}, nil
	}

	origSession, origLoader := sessionOptions, graphLoader
	t.Cleanup(func() { sessionOptions, graphLoader = origSession, origLoader })

	sessionOptions = func() []engine.Option {
		return []engine.Option{
			engine.WithBootstrap(bootstrap),
			engine.WithLoader(func(onnx.RuntimeInfo) onnx.Loader { return fakes.Loader() }),
		}
	}
	graphLoader = func(config.Config) (onnx.Loader, error) { return fakes.Loader(), nil }

	return fakes
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestGenerateCmd_StreamsTokens(t *testing.T) {
	fakes := useFakes(t)
	dir := testutil.WriteLLMModel(t)

	out, err := runCmd(t, "", "generate", "--model-dir", dir, "--prompt", "hello", "--temperature", "0")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if got := strings.TrimSpace(out); got != "uvwxyz" {
		t.Fatalf("generate output = %q, want uvwxyz", got)
	}

	if fakes.Live() != 0 {
		t.Fatalf("expected every graph closed, %d still open", fakes.Live())
	}
}

func TestGenerateCmd_JSONResult(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteLLMModel(t)

	out, err := runCmd(t, "", "generate", "--model-dir", dir, "--prompt", "hello",
		"--temperature", "0", "--max-tokens", "3", "--json")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var res llm.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result %q: %v", out, err)
	}

	if res.Text != "uvw" || res.TokensGenerated != 3 || res.FinishReason != llm.FinishLength {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGenerateCmd_RequiresPrompt(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteLLMModel(t)

	if _, err := runCmd(t, "", "generate", "--model-dir", dir); err == nil {
		t.Fatal("expected error without --prompt or --messages")
	}
}

func TestTranscribeCmd_WAV(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteASRModel(t)

	wav := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(wav, testutil.WAV(t, testutil.Utterance("hi there"), testutil.ASRSampleRate), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "", "transcribe", "--model-dir", dir, "--language", "en", wav)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	var res engine.Transcription
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode transcription %q: %v", out, err)
	}

	if res.Text != "hi there" || res.Language != "en" {
		t.Fatalf("unexpected transcription: %+v", res)
	}
}

func TestStreamCmd_EmitsFinalResult(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteASRModel(t)

	wav := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(wav, testutil.WAV(t, testutil.Utterance("hello"), testutil.ASRSampleRate), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "", "stream", "--model-dir", dir, wav)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var last streamEvent
	lines := 0
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if err := json.Unmarshal(sc.Bytes(), &last); err != nil {
			t.Fatalf("decode event %q: %v", sc.Text(), err)
		}
		lines++
	}

	if lines < 2 {
		t.Fatalf("expected partial and final events, got %d lines", lines)
	}
	if !last.Final || last.Text != "hello" {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestSynthCmd_StreamsWAVToStdout(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteTTSModel(t)

	out, err := runCmd(t, "hello world.", "synth", "--model-dir", dir, "--out", "-")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}

	if !strings.HasPrefix(out, "RIFF") || len(out) <= 44 {
		t.Fatalf("expected streamed WAV, got %d bytes", len(out))
	}
}

func TestSynthCmd_PitchRendersWholeClip(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteTTSModel(t)
	path := filepath.Join(t.TempDir(), "out.wav")

	if _, err := runCmd(t, "", "synth", "--model-dir", dir, "--text", "hello", "--pitch", "12", "--out", path); err != nil {
		t.Fatalf("synth: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertValidWAV(t, data, testutil.WAVFormat{SampleRate: testutil.TTSSampleRate, Channels: 1, BitDepth: 16})
}

func TestSynthCmd_RejectsEmptyText(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteTTSModel(t)

	if _, err := runCmd(t, "  \n", "synth", "--model-dir", dir, "--out", "-"); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestExtractCmd_ReportsLayout(t *testing.T) {
	dest := t.TempDir()

	out, err := runCmd(t, "", "extract", "--dest", dest, filepath.Join("..", "..", "internal", "model", "testdata", "model.tar.bz2"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if !strings.Contains(out, `"Dir"`) {
		t.Fatalf("expected layout JSON, got %q", out)
	}
}

func TestDoctorCmd_SkipRuntimeWithModels(t *testing.T) {
	llmDir := testutil.WriteLLMModel(t)
	asrDir := testutil.WriteASRModel(t)
	ttsDir := testutil.WriteTTSModel(t)

	out, err := runCmd(t, "", "doctor", "--skip-runtime",
		"--paths-model-dir", llmDir,
		"--paths-asr-model-dir", asrDir,
		"--paths-tts-model-dir", ttsDir,
	)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}

	if !strings.Contains(out, "doctor checks passed") {
		t.Fatalf("unexpected doctor output: %q", out)
	}
}

func TestDoctorCmd_FailsOnMissingModelDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	_, err := runCmd(t, "", "doctor", "--skip-runtime",
		"--paths-model-dir", missing,
		"--paths-asr-model-dir", missing,
		"--paths-tts-model-dir", missing,
	)
	if err == nil {
		t.Fatal("expected doctor to fail for a missing model dir")
	}
}

func TestBenchCmd_SynthJSON(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteTTSModel(t)

	out, err := runCmd(t, "", "bench", "--task", "synth", "--model-dir", dir, "--runs", "2", "--format", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	var report struct {
		Runs []struct {
			Cold    bool    `json:"cold"`
			AudioMS float64 `json:"audio_ms"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report %q: %v", out, err)
	}

	if len(report.Runs) != 2 || !report.Runs[0].Cold || report.Runs[1].Cold {
		t.Fatalf("unexpected runs: %+v", report.Runs)
	}
	if report.Runs[0].AudioMS <= 0 {
		t.Fatalf("expected synthesized audio duration, got %+v", report.Runs[0])
	}
}

func TestBenchCmd_GenerateCountsTokens(t *testing.T) {
	useFakes(t)
	dir := testutil.WriteLLMModel(t)

	out, err := runCmd(t, "", "bench", "--task", "generate", "--model-dir", dir, "--runs", "1", "--max-tokens", "4", "--format", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	if !strings.Contains(out, `"tokens": 4`) {
		t.Fatalf("expected 4 tokens per run, got %s", out)
	}
}

func TestBenchCmd_RejectsUnknownTask(t *testing.T) {
	if _, err := runCmd(t, "", "bench", "--task", "paint"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
