package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	ASR      ASRConfig     `mapstructure:"asr"`
	TTS      TTSConfig     `mapstructure:"tts"`
	LLM      LLMConfig     `mapstructure:"llm"`
	LogLevel string        `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelDir    string `mapstructure:"model_dir"`
	ASRModelDir string `mapstructure:"asr_model_dir"`
	TTSModelDir string `mapstructure:"tts_model_dir"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	Backend        string `mapstructure:"backend"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     uint32 `mapstructure:"api_version"`
}

// ASRConfig tunes the streaming recognizer. Durations are in seconds.
type ASRConfig struct {
	SampleRate              int     `mapstructure:"sample_rate"`
	ChunkMS                 int     `mapstructure:"chunk_ms"`
	EnableEndpoint          bool    `mapstructure:"enable_endpoint"`
	Rule1MinTrailingSilence float64 `mapstructure:"rule1_min_trailing_silence"`
	Rule2MinTrailingSilence float64 `mapstructure:"rule2_min_trailing_silence"`
	Rule3MinUtteranceLength float64 `mapstructure:"rule3_min_utterance_length"`
	BlankID                 int     `mapstructure:"blank_id"`
}

// TTSConfig tunes the VITS engine. SampleRate and NumSpeakers override the
// model metadata when non-zero; directories without a manifest need them.
type TTSConfig struct {
	NoiseScale  float64 `mapstructure:"noise_scale"`
	NoiseScaleW float64 `mapstructure:"noise_scale_w"`
	Speaker     int     `mapstructure:"speaker"`
	SampleRate  int     `mapstructure:"sample_rate"`
	NumSpeakers int     `mapstructure:"num_speakers"`
}

type LLMConfig struct {
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir:    "models/llm",
			ASRModelDir: "models/asr",
			TTSModelDir: "models/tts",
		},
		Runtime: DefaultRuntimeConfig(),
		ASR:     DefaultASRConfig(),
		TTS:     DefaultTTSConfig(),
		LLM: LLMConfig{
			MaxTokens:   256,
			Temperature: 0.7,
		},
		LogLevel: "info",
	}
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Threads:        4,
		Backend:        BackendCPU,
		ORTLibraryPath: "",
		ORTVersion:     "",
		APIVersion:     23,
	}
}

func DefaultASRConfig() ASRConfig {
	return ASRConfig{
		SampleRate:              16000,
		ChunkMS:                 200,
		EnableEndpoint:          true,
		Rule1MinTrailingSilence: 2.4,
		Rule2MinTrailingSilence: 1.2,
		Rule3MinUtteranceLength: 20,
		BlankID:                 0,
	}
}

func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		NoiseScale:  0.667,
		NoiseScaleW: 0.8,
		Speaker:     0,
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Engine model directory (manifest.json + graphs)")
	fs.String("paths-asr-model-dir", defaults.Paths.ASRModelDir, "Streaming recognizer model directory")
	fs.String("paths-tts-model-dir", defaults.Paths.TTSModelDir, "TTS model directory")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count")
	fs.String("runtime-backend", defaults.Runtime.Backend, "Execution provider (cpu|coreml|nnapi|cuda|xnnpack)")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("asr-sample-rate", defaults.ASR.SampleRate, "Recognizer input sample rate in Hz")
	fs.Int("asr-chunk-ms", defaults.ASR.ChunkMS, "Audio consumed per decode step in milliseconds")
	fs.Bool("asr-enable-endpoint", defaults.ASR.EnableEndpoint, "Enable endpoint detection")
	fs.Float64("tts-noise-scale", defaults.TTS.NoiseScale, "VITS noise scale")
	fs.Float64("tts-noise-scale-w", defaults.TTS.NoiseScaleW, "VITS duration noise scale")
	fs.Int("llm-max-tokens", defaults.LLM.MaxTokens, "Default generation bound in tokens")
	fs.Float64("llm-temperature", defaults.LLM.Temperature, "Default sampling temperature (0 = greedy)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("ONNXBRIDGE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "ONNXBRIDGE_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("onnxbridge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Runtime.Backend)
	if err != nil {
		return Config{}, err
	}
	cfg.Runtime.Backend = backend

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.asr_model_dir", c.Paths.ASRModelDir)
	v.SetDefault("paths.tts_model_dir", c.Paths.TTSModelDir)
	setRuntimeDefaults(v, "runtime.", c.Runtime)
	setASRDefaults(v, "asr.", c.ASR)
	setTTSDefaults(v, "tts.", c.TTS)
	v.SetDefault("llm.max_tokens", c.LLM.MaxTokens)
	v.SetDefault("llm.temperature", c.LLM.Temperature)
	v.SetDefault("log_level", c.LogLevel)
}

func setRuntimeDefaults(v *viper.Viper, prefix string, c RuntimeConfig) {
	v.SetDefault(prefix+"threads", c.Threads)
	v.SetDefault(prefix+"backend", c.Backend)
	v.SetDefault(prefix+"ort_library_path", c.ORTLibraryPath)
	v.SetDefault(prefix+"ort_version", c.ORTVersion)
	v.SetDefault(prefix+"api_version", c.APIVersion)
}

func setASRDefaults(v *viper.Viper, prefix string, c ASRConfig) {
	v.SetDefault(prefix+"sample_rate", c.SampleRate)
	v.SetDefault(prefix+"chunk_ms", c.ChunkMS)
	v.SetDefault(prefix+"enable_endpoint", c.EnableEndpoint)
	v.SetDefault(prefix+"rule1_min_trailing_silence", c.Rule1MinTrailingSilence)
	v.SetDefault(prefix+"rule2_min_trailing_silence", c.Rule2MinTrailingSilence)
	v.SetDefault(prefix+"rule3_min_utterance_length", c.Rule3MinUtteranceLength)
	v.SetDefault(prefix+"blank_id", c.BlankID)
}

func setTTSDefaults(v *viper.Viper, prefix string, c TTSConfig) {
	v.SetDefault(prefix+"noise_scale", c.NoiseScale)
	v.SetDefault(prefix+"noise_scale_w", c.NoiseScaleW)
	v.SetDefault(prefix+"speaker", c.Speaker)
	v.SetDefault(prefix+"sample_rate", c.SampleRate)
	v.SetDefault(prefix+"num_speakers", c.NumSpeakers)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.model_dir", "paths-model-dir")
	v.RegisterAlias("paths.asr_model_dir", "paths-asr-model-dir")
	v.RegisterAlias("paths.tts_model_dir", "paths-tts-model-dir")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.backend", "runtime-backend")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("asr.sample_rate", "asr-sample-rate")
	v.RegisterAlias("asr.chunk_ms", "asr-chunk-ms")
	v.RegisterAlias("asr.enable_endpoint", "asr-enable-endpoint")
	v.RegisterAlias("tts.noise_scale", "tts-noise-scale")
	v.RegisterAlias("tts.noise_scale_w", "tts-noise-scale-w")
	v.RegisterAlias("llm.max_tokens", "llm-max-tokens")
	v.RegisterAlias("llm.temperature", "llm-temperature")
	v.RegisterAlias("log_level", "log-level")
}
