package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/llm"
	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/testutil"
	"github.com/example/go-onnx-bridge/internal/tts"
)

func fakeBootstrap(cfg config.RuntimeConfig) (onnx.RuntimeInfo, error) {
	return onnx.RuntimeInfo{LibraryPath: "fake", Version: "1.23.0", APIVersion: cfg.APIVersion, Initialized: true}, nil
}

func newSession(t *testing.T, opts ...Option) (*Session, *testutil.Fakes) {
	t.Helper()

	fakes := testutil.NewFakes()
	opts = append([]Option{
		WithBootstrap(fakeBootstrap),
		WithLoader(func(onnx.RuntimeInfo) onnx.Loader { return fakes.Loader() }),
	}, opts...)

	s := New(opts...)
	t.Cleanup(s.Close)

	return s, fakes
}

// loaded returns an initialized session with the model in dir loaded and
// the given modality selected.
func loaded(t *testing.T, dir string, m Modality) (*Session, *testutil.Fakes) {
	t.Helper()

	s, fakes := newSession(t)
	require.NoError(t, s.Initialize(""))
	require.NoError(t, s.LoadModel(dir))
	require.NoError(t, s.SetModality(m))

	return s, fakes
}

func TestInitialize(t *testing.T) {
	s, _ := newSession(t)
	assert.Equal(t, Uninitialized, s.State())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Initialize(`{"acceleration":"cpu","num_threads":2,"default_modality":"voice_to_text","log_level":"debug"}`))
	assert.Equal(t, Initialized, s.State())
	assert.Equal(t, VoiceToText, s.Modality())
	assert.False(t, s.IsModelLoaded())
	assert.Equal(t, "fake", s.Runtime().LibraryPath)
}

func TestInitialize_Errors(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.Initialize(`{"default_modality":2}`))
	require.Equal(t, TextToVoice, s.Modality())

	for payload, want := range map[string]status.Code{
		`{`:                                    status.InvalidParams,
		`{"backend":"tpu"}`:                    status.InvalidParams,
		`{"num_threads":-1}`:                   status.InvalidParams,
		`{"log_level":"loud"}`:                 status.InvalidParams,
		`{"default_modality":"telepathy"}`:     status.InvalidParams,
		`{"default_modality":"image_to_text"}`: status.NotImplemented,
	} {
		err := s.Initialize(payload)
		assert.Equal(t, want, status.CodeOf(err), "payload %s: %v", payload, err)
	}

	assert.Equal(t, Initialized, s.State())
	assert.Equal(t, TextToVoice, s.Modality())
}

func TestInitialize_BootstrapFailure(t *testing.T) {
	s, _ := newSession(t, WithBootstrap(func(config.RuntimeConfig) (onnx.RuntimeInfo, error) {
		return onnx.RuntimeInfo{}, errors.New("libonnxruntime.so: not found")
	}))

	err := s.Initialize("")
	assert.Equal(t, status.InitFailed, status.CodeOf(err))
	assert.Equal(t, Uninitialized, s.State())
}

func TestLoadModel(t *testing.T) {
	s, fakes := newSession(t)

	err := s.LoadModel(testutil.WriteASRModel(t))
	assert.Equal(t, status.InvalidParams, status.CodeOf(err), "load before initialize")

	require.NoError(t, s.Initialize(""))
	require.NoError(t, s.LoadModel(testutil.WriteASRModel(t)))

	assert.True(t, s.IsModelLoaded())
	assert.Equal(t, Capabilities{ASR: true}, s.Capabilities())
	assert.Equal(t, 1, fakes.Live())
}

func TestLoadModel_AllCapabilities(t *testing.T) {
	s, fakes := newSession(t)
	require.NoError(t, s.Initialize(""))
	require.NoError(t, s.LoadModel(testutil.WriteModel(t, testutil.ModelSpec{ASR: true, TTS: true, LLM: true})))

	assert.Equal(t, Capabilities{ASR: true, TTS: true, LLM: true}, s.Capabilities())
	assert.Equal(t, 3, fakes.Live())

	s.Close()
	assert.Zero(t, fakes.Live())
}

func TestLoadModel_FailureKeepsPreviousModel(t *testing.T) {
	s, fakes := newSession(t)
	require.NoError(t, s.Initialize(""))
	require.NoError(t, s.LoadModel(testutil.WriteASRModel(t)))

	err := s.LoadModel(t.TempDir())
	assert.Equal(t, status.ModelLoadFailed, status.CodeOf(err))

	fakes.FailOpen(testutil.TTSGraph, errors.New("corrupt graph"))
	err = s.LoadModel(testutil.WriteTTSModel(t))
	assert.Equal(t, status.ModelLoadFailed, status.CodeOf(err))

	assert.True(t, s.IsModelLoaded())
	assert.Equal(t, Capabilities{ASR: true}, s.Capabilities())
	assert.Equal(t, 1, fakes.Live())
}

func TestLoadModel_PartialFailureReleasesGraphs(t *testing.T) {
	s, fakes := newSession(t)
	require.NoError(t, s.Initialize(""))

	fakes.FailOpen(testutil.LLMGraph, errors.New("corrupt graph"))
	err := s.LoadModel(testutil.WriteModel(t, testutil.ModelSpec{ASR: true, TTS: true, LLM: true}))
	assert.Equal(t, status.ModelLoadFailed, status.CodeOf(err))

	assert.False(t, s.IsModelLoaded())
	assert.Zero(t, fakes.Live())
}

func TestReinitializeDiscardsModel(t *testing.T) {
	s, fakes := newSession(t)
	require.NoError(t, s.Initialize(""))
	require.NoError(t, s.LoadModel(testutil.WriteASRModel(t)))

	require.NoError(t, s.Initialize(`{"num_threads":1}`))

	assert.Equal(t, Initialized, s.State())
	assert.False(t, s.IsModelLoaded())
	assert.Zero(t, fakes.Live())
}

func TestSetModality(t *testing.T) {
	s, _ := newSession(t)
	assert.Equal(t, status.InvalidParams, status.CodeOf(s.SetModality(VoiceToText)))

	require.NoError(t, s.Initialize(""))
	assert.Equal(t, status.InvalidParams, status.CodeOf(s.SetModality(Modality(9))))
	assert.Equal(t, status.NotImplemented, status.CodeOf(s.SetModality(ImageToText)))
	assert.Equal(t, status.NotImplemented, status.CodeOf(s.SetModality(TextToImage)))

	require.NoError(t, s.SetModality(Multimodal))
	assert.Equal(t, Multimodal, s.Modality())
}

func TestParseModality(t *testing.T) {
	for in, want := range map[string]Modality{
		"0":             TextToText,
		"voice_to_text": VoiceToText,
		"Text-To-Voice": TextToVoice,
		" multimodal ":  Multimodal,
		"4":             TextToImage,
	} {
		got, err := ParseModality(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"6", "-1", "", "speech"} {
		_, err := ParseModality(in)
		assert.Equal(t, status.InvalidParams, status.CodeOf(err), in)
	}
}

func decodeTranscription(t *testing.T, out string) Transcription {
	t.Helper()

	var tr Transcription
	require.NoError(t, json.Unmarshal([]byte(out), &tr))

	return tr
}

func TestTranscribe_OneSecondOfSilence(t *testing.T) {
	s, _ := loaded(t, testutil.WriteASRModel(t), VoiceToText)

	pcm := testutil.PCM16(t, testutil.Silence(testutil.ASRSampleRate, 1000))
	out, err := s.Transcribe(context.Background(), pcm, audio.Config{
		SampleRate: testutil.ASRSampleRate, Channels: 1, BitsPerSample: 16, Format: audio.FormatPCM,
	}, "en")
	require.NoError(t, err)

	assert.Equal(t, Transcription{Text: "", Language: "en", DurationMS: 1000, NumSamples: 16000}, decodeTranscription(t, out))
}

func TestTranscribe_WAV(t *testing.T) {
	s, _ := loaded(t, testutil.WriteASRModel(t), Multimodal)

	wav := testutil.WAV(t, testutil.Utterance("hi there"), testutil.ASRSampleRate)
	out, err := s.Transcribe(context.Background(), wav, audio.Config{Format: audio.FormatWAV}, "")
	require.NoError(t, err)

	assert.Equal(t, "hi there", decodeTranscription(t, out).Text)
}

func TestTranscribe_Errors(t *testing.T) {
	pcmCfg := audio.Config{SampleRate: testutil.ASRSampleRate, Channels: 1, BitsPerSample: 16, Format: audio.FormatPCM}
	pcm := testutil.PCM16(t, testutil.Silence(testutil.ASRSampleRate, 100))

	t.Run("wrong modality", func(t *testing.T) {
		s, _ := loaded(t, testutil.WriteASRModel(t), TextToText)
		_, err := s.Transcribe(context.Background(), pcm, pcmCfg, "")
		assert.Equal(t, status.InvalidParams, status.CodeOf(err))
	})

	t.Run("no model", func(t *testing.T) {
		s, _ := newSession(t)
		require.NoError(t, s.Initialize(`{"default_modality":"voice_to_text"}`))
		_, err := s.Transcribe(context.Background(), pcm, pcmCfg, "")
		assert.Equal(t, status.InvalidParams, status.CodeOf(err))
	})

	t.Run("model without recognizer", func(t *testing.T) {
		s, _ := loaded(t, testutil.WriteTTSModel(t), VoiceToText)
		_, err := s.Transcribe(context.Background(), pcm, pcmCfg, "")
		assert.Equal(t, status.InvalidParams, status.CodeOf(err))
	})

	t.Run("bad audio", func(t *testing.T) {
		s, fakes := loaded(t, testutil.WriteASRModel(t), VoiceToText)
		ctx := context.Background()

		for name, c := range map[string]struct {
			data []byte
			cfg  audio.Config
		}{
			"rate mismatch": {pcm, audio.Config{SampleRate: 8000, Channels: 1, BitsPerSample: 16}},
			"odd length":    {pcm[:3], pcmCfg},
			"not a wav":     {pcm, audio.Config{Format: audio.FormatWAV}},
			"mp3":           {pcm, audio.Config{Format: audio.FormatMP3}},
		} {
			_, err := s.Transcribe(ctx, c.data, c.cfg, "")
			assert.Equal(t, status.InvalidParams, status.CodeOf(err), name)
		}

		assert.Zero(t, fakes.Runs(testutil.ASRGraph))
	})

	t.Run("inference failure is per call", func(t *testing.T) {
		s, fakes := loaded(t, testutil.WriteASRModel(t), VoiceToText)
		fakes.Override(testutil.ASRGraph, testutil.Failing(errors.New("npu reset")))

		_, err := s.Transcribe(context.Background(), pcm, pcmCfg, "")
		assert.Equal(t, status.InferenceFailed, status.CodeOf(err))
		assert.True(t, s.IsModelLoaded())

		fakes.Override(testutil.ASRGraph, testutil.ASREncoder)
		_, err = s.Transcribe(context.Background(), pcm, pcmCfg, "")
		assert.NoError(t, err)
	})
}

var wavOut = audio.Config{Format: audio.FormatWAV}

func TestSynthesize(t *testing.T) {
	s, _ := loaded(t, testutil.WriteTTSModel(t), TextToVoice)

	data, ms, err := s.Synthesize(context.Background(), "Hello world.", "", wavOut, 1, 0)
	require.NoError(t, err)

	frames := testutil.AssertValidWAV(t, data, testutil.WAVFormat{SampleRate: testutil.TTSSampleRate, Channels: 1, BitDepth: 16})
	assert.Equal(t, 12*testutil.VITSSamplesPerToken, frames)
	assert.InDelta(t, float64(frames)*1000/testutil.TTSSampleRate, float64(ms), 1)
}

func TestSynthesize_RateAndPitch(t *testing.T) {
	s, _ := loaded(t, testutil.WriteTTSModel(t), TextToVoice)
	pcm := audio.Config{Format: audio.FormatPCM, BitsPerSample: 32}
	base := 12 * testutil.VITSSamplesPerToken

	for name, c := range map[string]struct {
		rate, pitch float64
		samples     int
	}{
		"normal":      {1, 0, base},
		"fast":        {2, 0, base / 2},
		"octave up":   {1, 12, base},
		"octave down": {1, -12, base},
		"slow":        {0.25, 0, base * 4},
	} {
		data, _, err := s.Synthesize(context.Background(), "Hello world.", "1", pcm, c.rate, c.pitch)
		require.NoError(t, err, name)
		assert.Len(t, data, c.samples*4, name)
	}
}

func TestSynthesize_InvalidArguments(t *testing.T) {
	s, fakes := loaded(t, testutil.WriteTTSModel(t), TextToVoice)
	ctx := context.Background()

	for name, c := range map[string]struct {
		text, voice string
		cfg         audio.Config
		rate, pitch float64
	}{
		"rate too low":       {"hi", "", wavOut, 0.1, 0},
		"rate too high":      {"hi", "", wavOut, 5, 0},
		"pitch too low":      {"hi", "", wavOut, 1, -13},
		"pitch too high":     {"hi", "", wavOut, 1, 12.5},
		"voice not number":   {"hi", "alice", wavOut, 1, 0},
		"voice out of range": {"hi", "7", wavOut, 1, 0},
		"empty text":         {"  ", "", wavOut, 1, 0},
		"output rate":        {"hi", "", audio.Config{Format: audio.FormatWAV, SampleRate: 16000}, 1, 0},
		"32-bit wav":         {"hi", "", audio.Config{Format: audio.FormatWAV, BitsPerSample: 32}, 1, 0},
		"opus":               {"hi", "", audio.Config{Format: audio.FormatOPUS}, 1, 0},
	} {
		_, _, err := s.Synthesize(ctx, c.text, c.voice, c.cfg, c.rate, c.pitch)
		assert.Equal(t, status.InvalidParams, status.CodeOf(err), "%s: %v", name, err)
	}

	assert.Zero(t, fakes.Runs(tts.VITSGraph))
}

func TestGenerateText(t *testing.T) {
	s, _ := loaded(t, testutil.WriteLLMModel(t), TextToText)

	out, err := s.GenerateText(context.Background(), `[{"role":"user","content":"hello"}]`, "", 100, 0)
	require.NoError(t, err)

	var res llm.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, llm.Result{Text: "uvwxyz", TokensGenerated: 6, FinishReason: llm.FinishStop}, res)
}

func TestGenerateTextStream(t *testing.T) {
	s, _ := loaded(t, testutil.WriteLLMModel(t), Multimodal)

	var tokens []string
	out, err := s.GenerateTextStream(context.Background(), `[{"role":"user","content":"hello"}]`, "be brief", 4, 0,
		func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)

	assert.Equal(t, []string{"u", "v", "w", "x"}, tokens)
	assert.JSONEq(t, `{"text":"uvwx","tokens_generated":4,"finish_reason":"length"}`, out)
}

func TestGenerateText_ZeroMaxTokens(t *testing.T) {
	s, fakes := loaded(t, testutil.WriteLLMModel(t), TextToText)

	calls := 0
	out, err := s.GenerateTextStream(context.Background(), `[{"role":"user","content":"hello"}]`, "", 0, 0.7,
		func(string) { calls++ })
	require.NoError(t, err)

	assert.Zero(t, calls)
	assert.JSONEq(t, `{"text":"","tokens_generated":0,"finish_reason":"stop"}`, out)
	assert.Zero(t, fakes.Runs(testutil.LLMGraph))
}

func TestGenerateText_Errors(t *testing.T) {
	s, fakes := loaded(t, testutil.WriteLLMModel(t), TextToText)
	ctx := context.Background()

	_, err := s.GenerateText(ctx, `{"role":"user"}`, "", 4, 0)
	assert.Equal(t, status.InvalidParams, status.CodeOf(err))

	_, err = s.GenerateText(ctx, `[]`, "", -1, 0)
	assert.Equal(t, status.InvalidParams, status.CodeOf(err))

	require.NoError(t, s.SetModality(VoiceToText))
	_, err = s.GenerateText(ctx, `[]`, "", 4, 0)
	assert.Equal(t, status.InvalidParams, status.CodeOf(err))

	require.NoError(t, s.SetModality(TextToText))
	fakes.Override(testutil.LLMGraph, testutil.Failing(errors.New("oom")))
	_, err = s.GenerateText(ctx, `[]`, "", 4, 0)
	assert.Equal(t, status.InferenceFailed, status.CodeOf(err))
}

func TestClose(t *testing.T) {
	s, fakes := loaded(t, testutil.WriteASRModel(t), VoiceToText)

	s.Close()
	s.Close()

	assert.Equal(t, Uninitialized, s.State())
	assert.Zero(t, fakes.Live())

	_, err := s.Transcribe(context.Background(), nil, audio.Config{Format: audio.FormatWAV}, "")
	assert.Equal(t, status.InvalidParams, status.CodeOf(err))
}

func TestLevelHandler_SharedLevelStillApplies(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	shared := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	debug := &levelHandler{level: slog.LevelDebug, inner: shared}
	assert.False(t, debug.Enabled(ctx, slog.LevelDebug), "session debug must not bypass the shared level")
	assert.True(t, debug.Enabled(ctx, slog.LevelInfo))

	warn := &levelHandler{level: slog.LevelWarn, inner: shared}
	assert.False(t, warn.Enabled(ctx, slog.LevelInfo))
	assert.True(t, warn.Enabled(ctx, slog.LevelError))

	slog.New(debug).Debug("hidden")
	slog.New(debug).Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
