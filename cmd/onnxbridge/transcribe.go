package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/engine"
)

type audioFlags struct {
	format     string
	sampleRate int
	channels   int
	bits       int
}

func (f *audioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "", "Audio container (wav|pcm); default from the file extension")
	cmd.Flags().IntVar(&f.sampleRate, "sample-rate", 16000, "Sample rate of raw PCM input")
	cmd.Flags().IntVar(&f.channels, "channels", 1, "Channel count of raw PCM input")
	cmd.Flags().IntVar(&f.bits, "bits", 16, "Bits per sample of raw PCM input (16|32)")
}

// config resolves the audio config for path.
func (f *audioFlags) config(path string) (audio.Config, error) {
	name := f.format
	if name == "" {
		name = "pcm"
		if strings.HasSuffix(strings.ToLower(path), ".wav") {
			name = "wav"
		}
	}

	format, err := audio.ParseFormat(name)
	if err != nil {
		return audio.Config{}, err
	}

	if format == audio.FormatWAV {
		return audio.Config{Format: format}, nil
	}

	return audio.Config{
		SampleRate:    f.sampleRate,
		Channels:      f.channels,
		BitsPerSample: f.bits,
		Format:        format,
	}, nil
}

func newTranscribeCmd() *cobra.Command {
	var modelDir string
	var language string
	var af audioFlags

	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe a WAV or raw PCM file and print the result JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if modelDir == "" {
				modelDir = cfg.Paths.ASRModelDir
			}

			acfg, err := af.config(args[0])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			s, err := openSession(cfg, modelDir, engine.VoiceToText)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := s.Transcribe(cmd.Context(), data, acfg, language)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().StringVar(&modelDir, "model-dir", "", "Recognizer model directory (default: paths.asr_model_dir)")
	cmd.Flags().StringVar(&language, "language", "", "Language tag reported in the result")
	af.register(cmd)

	return cmd
}
