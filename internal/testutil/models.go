package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ASRVocab is the size of the fake recognizer vocabulary: blank, word
// boundary and the letters a-z.
const ASRVocab = 28

// ASRSampleRate is the sample rate written into the fake recognizer model.
const ASRSampleRate = 16000

// TTSSampleRate and TTSNumSpeakers describe the fake synthesizer model.
const (
	TTSSampleRate  = 22050
	TTSNumSpeakers = 2
)

// LLMEOS is the end-of-sequence id of the fake decoder.
const LLMEOS = 2

var llmSymbols = append([]string{"<unk>", "<s>", "</s>", "▁"}, letters()...)

func letters() []string {
	out := make([]string, 0, 26)
	for r := 'a'; r <= 'z'; r++ {
		out = append(out, string(r))
	}

	return out
}

func asrSymbols() []string {
	return append([]string{"<blk>", "▁"}, letters()...)
}

// ttsSymbols: pad, space, letters and basic punctuation.
func ttsSymbols() []string {
	return append(append([]string{"_", " "}, letters()...), ".", ",", "!", "?")
}

type graphEntry struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

// ModelSpec selects the capabilities of a synthetic model directory.
type ModelSpec struct {
	ASR bool
	TTS bool
	LLM bool
}

// WriteASRModel writes a model directory served by ASREncoder.
func WriteASRModel(tb testing.TB) string {
	tb.Helper()
	return WriteModel(tb, ModelSpec{ASR: true})
}

// WriteTTSModel writes a model directory served by VITS.
func WriteTTSModel(tb testing.TB) string {
	tb.Helper()
	return WriteModel(tb, ModelSpec{TTS: true})
}

// WriteLLMModel writes a model directory served by Decoder.
func WriteLLMModel(tb testing.TB) string {
	tb.Helper()
	return WriteModel(tb, ModelSpec{LLM: true})
}

// WriteModel writes manifest.json, tokens.txt and placeholder graph files
// for the selected capabilities. A combined directory shares one symbol
// table, so only single-capability directories are meaningful for
// decoding tests.
func WriteModel(tb testing.TB, spec ModelSpec) string {
	tb.Helper()

	dir := tb.TempDir()

	var graphs []graphEntry
	meta := map[string]any{}
	var symbols []string

	if spec.LLM {
		graphs = append(graphs, graphEntry{Name: LLMGraph, Filename: "decoder.onnx"})
		meta["eos_token_id"] = LLMEOS
		meta["max_context"] = 512
		symbols = llmSymbols
	}

	if spec.TTS {
		graphs = append(graphs, graphEntry{Name: TTSGraph, Filename: "vits.onnx"})
		meta["num_speakers"] = TTSNumSpeakers
		meta["sample_rate"] = TTSSampleRate
		symbols = ttsSymbols()
	}

	if spec.ASR {
		graphs = append(graphs, graphEntry{Name: ASRGraph, Filename: "encoder.onnx"})
		meta["sample_rate"] = ASRSampleRate
		symbols = asrSymbols()
	}

	if len(graphs) == 0 {
		tb.Fatal("WriteModel: no capability selected")
	}

	for _, g := range graphs {
		writeFile(tb, filepath.Join(dir, g.Filename), "fake-onnx")
	}

	data, err := json.Marshal(map[string]any{"graphs": graphs, "metadata": meta})
	if err != nil {
		tb.Fatalf("marshal manifest: %v", err)
	}

	writeFile(tb, filepath.Join(dir, "manifest.json"), string(data))
	writeFile(tb, filepath.Join(dir, "tokens.txt"), symbolFile(symbols))

	return dir
}

// WriteBareTTSModel writes a directory with only model.onnx and tokens.txt.
func WriteBareTTSModel(tb testing.TB) string {
	tb.Helper()

	dir := tb.TempDir()
	writeFile(tb, filepath.Join(dir, "model.onnx"), "fake-onnx")
	writeFile(tb, filepath.Join(dir, "tokens.txt"), symbolFile(ttsSymbols()))

	return dir
}

func symbolFile(symbols []string) string {
	var b strings.Builder
	for id, sym := range symbols {
		fmt.Fprintf(&b, "%s %d\n", sym, id)
	}

	return b.String()
}

func writeFile(tb testing.TB, path, body string) {
	tb.Helper()

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
