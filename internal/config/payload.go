package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EngineOptions is the decoded form of the engine initialize payload.
type EngineOptions struct {
	Backend         string `mapstructure:"backend"`
	NumThreads      int    `mapstructure:"num_threads"`
	DefaultModality string `mapstructure:"default_modality"`
	ORTLibraryPath  string `mapstructure:"ort_library_path"`
	APIVersion      uint32 `mapstructure:"api_version"`
	LogLevel        string `mapstructure:"log_level"`
}

// ParseEngineOptions decodes an initialize payload over the given runtime
// defaults. An empty payload yields the defaults. Unknown keys are ignored.
func ParseEngineOptions(payload string, defaults RuntimeConfig, logLevel string) (EngineOptions, error) {
	v := viper.New()
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("num_threads", defaults.Threads)
	v.SetDefault("default_modality", "")
	v.SetDefault("ort_library_path", defaults.ORTLibraryPath)
	v.SetDefault("api_version", defaults.APIVersion)
	v.SetDefault("log_level", logLevel)

	if err := readPayload(v, payload); err != nil {
		return EngineOptions{}, err
	}

	if !v.InConfig("backend") && v.InConfig("acceleration") {
		v.Set("backend", v.Get("acceleration"))
	}

	var opts EngineOptions
	if err := v.Unmarshal(&opts); err != nil {
		return EngineOptions{}, fmt.Errorf("decode engine config: %w", err)
	}

	backend, err := NormalizeBackend(opts.Backend)
	if err != nil {
		return EngineOptions{}, err
	}
	opts.Backend = backend

	if opts.NumThreads < 0 {
		return EngineOptions{}, fmt.Errorf("num_threads must be >= 0, got %d", opts.NumThreads)
	}
	if opts.NumThreads == 0 {
		opts.NumThreads = defaults.Threads
	}

	if opts.APIVersion == 0 {
		opts.APIVersion = defaults.APIVersion
	}

	if _, err := ParseLogLevel(opts.LogLevel); err != nil {
		return EngineOptions{}, err
	}

	return opts, nil
}

// ParseRecognizerOptions decodes a recognizer config payload over defaults.
func ParseRecognizerOptions(payload string, defaults ASRConfig) (ASRConfig, error) {
	v := viper.New()
	setASRDefaults(v, "", defaults)

	if err := readPayload(v, payload); err != nil {
		return ASRConfig{}, err
	}

	var cfg ASRConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ASRConfig{}, fmt.Errorf("decode recognizer config: %w", err)
	}

	switch {
	case cfg.SampleRate <= 0:
		return ASRConfig{}, fmt.Errorf("sample_rate must be > 0, got %d", cfg.SampleRate)
	case cfg.ChunkMS <= 0:
		return ASRConfig{}, fmt.Errorf("chunk_ms must be > 0, got %d", cfg.ChunkMS)
	case cfg.BlankID < 0:
		return ASRConfig{}, fmt.Errorf("blank_id must be >= 0, got %d", cfg.BlankID)
	case cfg.Rule1MinTrailingSilence < 0, cfg.Rule2MinTrailingSilence < 0, cfg.Rule3MinUtteranceLength < 0:
		return ASRConfig{}, fmt.Errorf("endpoint rule thresholds must be >= 0")
	}

	return cfg, nil
}

// ParseTTSOptions decodes a TTS config payload over defaults.
func ParseTTSOptions(payload string, defaults TTSConfig) (TTSConfig, error) {
	v := viper.New()
	setTTSDefaults(v, "", defaults)

	if err := readPayload(v, payload); err != nil {
		return TTSConfig{}, err
	}

	var cfg TTSConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return TTSConfig{}, fmt.Errorf("decode tts config: %w", err)
	}

	if cfg.NoiseScale < 0 || cfg.NoiseScaleW < 0 {
		return TTSConfig{}, fmt.Errorf("noise scales must be >= 0")
	}
	if cfg.SampleRate < 0 || cfg.NumSpeakers < 0 {
		return TTSConfig{}, fmt.Errorf("sample_rate and num_speakers must be >= 0")
	}
	if cfg.Speaker < 0 {
		return TTSConfig{}, fmt.Errorf("speaker must be >= 0, got %d", cfg.Speaker)
	}

	return cfg, nil
}

func readPayload(v *viper.Viper, payload string) error {
	if strings.TrimSpace(payload) == "" {
		return nil
	}

	v.SetConfigType("json")
	if err := v.ReadConfig(strings.NewReader(payload)); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}

	return nil
}
