package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Runtime.Threads != 4 {
		t.Errorf("Runtime.Threads = %d; want 4", cfg.Runtime.Threads)
	}

	if cfg.Runtime.Backend != BackendCPU {
		t.Errorf("Runtime.Backend = %q; want %q", cfg.Runtime.Backend, BackendCPU)
	}

	if cfg.Runtime.APIVersion != 23 {
		t.Errorf("Runtime.APIVersion = %d; want 23", cfg.Runtime.APIVersion)
	}

	if cfg.ASR.SampleRate != 16000 {
		t.Errorf("ASR.SampleRate = %d; want 16000", cfg.ASR.SampleRate)
	}

	if cfg.ASR.ChunkMS != 200 {
		t.Errorf("ASR.ChunkMS = %d; want 200", cfg.ASR.ChunkMS)
	}

	if !cfg.ASR.EnableEndpoint {
		t.Error("ASR.EnableEndpoint = false; want true")
	}

	if cfg.ASR.Rule1MinTrailingSilence != 2.4 || cfg.ASR.Rule2MinTrailingSilence != 1.2 || cfg.ASR.Rule3MinUtteranceLength != 20 {
		t.Errorf("endpoint rules = %v/%v/%v; want 2.4/1.2/20",
			cfg.ASR.Rule1MinTrailingSilence, cfg.ASR.Rule2MinTrailingSilence, cfg.ASR.Rule3MinUtteranceLength)
	}

	if cfg.LLM.MaxTokens != 256 {
		t.Errorf("LLM.MaxTokens = %d; want 256", cfg.LLM.MaxTokens)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- NormalizeBackend ---

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"cpu", "cpu", BackendCPU, false},
		{"coreml mixed case", "CoreML", BackendCoreML, false},
		{"nnapi with spaces", "  nnapi  ", BackendNNAPI, false},
		{"cuda", "cuda", BackendCUDA, false},
		{"xnnpack", "XNNPACK", BackendXNNPACK, false},
		{"metal alias", "metal", BackendCoreML, false},
		{"gpu alias", "gpu", BackendCUDA, false},
		{"empty defaults to cpu", "", BackendCPU, false},
		{"whitespace defaults to cpu", "   ", BackendCPU, false},
		{"invalid value", "tpu", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBackend(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeBackend(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeBackend(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeBackend(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- ParseLogLevel ---

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) err = %v; wantErr %v", tt.in, err, tt.wantErr)
		}

		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"paths-model-dir", "models/llm"},
		{"paths-asr-model-dir", "models/asr"},
		{"runtime-backend", "cpu"},
		{"asr-chunk-ms", "200"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.ModelDir != defaults.Paths.ModelDir {
		t.Errorf("ModelDir = %q; want %q", cfg.Paths.ModelDir, defaults.Paths.ModelDir)
	}

	if cfg.ASR.SampleRate != defaults.ASR.SampleRate {
		t.Errorf("ASR.SampleRate = %d; want %d", cfg.ASR.SampleRate, defaults.ASR.SampleRate)
	}

	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, defaults.LogLevel)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--runtime-backend=GPU",
		"--asr-chunk-ms=320",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.Backend != BackendCUDA {
		t.Errorf("Runtime.Backend = %q; want %q", cfg.Runtime.Backend, BackendCUDA)
	}

	if cfg.ASR.ChunkMS != 320 {
		t.Errorf("ASR.ChunkMS = %d; want 320", cfg.ASR.ChunkMS)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ONNXBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("ONNXBRIDGE_ASR_SAMPLE_RATE", "8000")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.ASR.SampleRate != 8000 {
		t.Errorf("ASR.SampleRate = %d; want 8000", cfg.ASR.SampleRate)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "onnxbridge.yaml")

	// Keys without a flag alias are read straight from the file.
	content := `
runtime:
  api_version: 21
asr:
  blank_id: 3
  rule2_min_trailing_silence: 0.8
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.APIVersion != 21 {
		t.Errorf("Runtime.APIVersion = %d; want 21", cfg.Runtime.APIVersion)
	}

	if cfg.ASR.BlankID != 3 {
		t.Errorf("ASR.BlankID = %d; want 3", cfg.ASR.BlankID)
	}

	if cfg.ASR.Rule2MinTrailingSilence != 0.8 {
		t.Errorf("ASR.Rule2MinTrailingSilence = %v; want 0.8", cfg.ASR.Rule2MinTrailingSilence)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/onnxbridge.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse([]string{"--runtime-backend=tpu"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: defaults}); err == nil {
		t.Error("Load() = nil; want error for unknown backend")
	}
}
