package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/tts"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var modelDir string
	var configJSON string
	var speaker int
	var rate float64
	var pitch float64

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		Long: "Synthesize text to WAV. Audio is streamed sentence by sentence; " +
			"a non-zero --pitch renders the whole clip first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if modelDir == "" {
				modelDir = cfg.Paths.TTSModelDir
			}

			inputText, err := readSynthText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}

			w, closeOut, err := openSynthOutput(out, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeOut()

			if pitch != 0 {
				return synthesizeBatch(cmd, w, modelDir, inputText, speaker, rate, pitch)
			}

			load, err := graphLoader(cfg)
			if err != nil {
				return err
			}

			e, err := tts.NewEngine(modelDir, configJSON, load)
			if err != nil {
				return err
			}
			defer e.Close()

			if speaker < 0 {
				speaker = e.DefaultSpeaker()
			}

			if _, err := audio.WriteWAVHeaderStreaming(w, e.SampleRate(), 1); err != nil {
				return fmt.Errorf("write wav header: %w", err)
			}

			samples := 0
			for chunk, err := range e.Stream(cmd.Context(), inputText, speaker, rate) {
				if err != nil {
					return err
				}
				if _, err := audio.WritePCM16Samples(w, chunk.Samples); err != nil {
					return fmt.Errorf("write samples: %w", err)
				}
				samples += len(chunk.Samples)
			}

			slog.Info("synthesis complete",
				"samples", samples,
				"duration_ms", audio.DurationMS(samples, e.SampleRate()),
			)

			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&modelDir, "model-dir", "", "TTS model directory (default: paths.tts_model_dir)")
	cmd.Flags().StringVar(&configJSON, "tts-config", "", "TTS config JSON (noise_scale, noise_scale_w, speaker, sample_rate, num_speakers)")
	cmd.Flags().IntVar(&speaker, "speaker", -1, "Speaker index (default: configured speaker)")
	cmd.Flags().Float64Var(&rate, "rate", 1, "Speaking rate (1 = normal)")
	cmd.Flags().Float64Var(&pitch, "pitch", 0, "Pitch shift in semitones")

	return cmd
}

// synthesizeBatch renders through an engine session, which applies the
// pitch shift.
func synthesizeBatch(cmd *cobra.Command, w io.Writer, modelDir, text string, speaker int, rate, pitch float64) error {
	s, err := openSession(activeCfg, modelDir, engine.TextToVoice)
	if err != nil {
		return err
	}
	defer s.Close()

	voice := ""
	if speaker >= 0 {
		voice = strconv.Itoa(speaker)
	}

	data, ms, err := s.Synthesize(cmd.Context(), text, voice, audio.Config{Format: audio.FormatWAV}, rate, pitch)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}

	slog.Info("synthesis complete", "bytes", len(data), "duration_ms", ms)

	return nil
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if t := strings.TrimSpace(text); t != "" {
		return t, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	t := strings.TrimSpace(string(data))
	if t == "" {
		return "", errors.New("no text given (use --text or stdin)")
	}

	return t, nil
}

func openSynthOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stdout, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}

	return f, func() {
		if err := f.Close(); err != nil {
			slog.Warn("close output", "path", path, "error", err)
		}
	}, nil
}
