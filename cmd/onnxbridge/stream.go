package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/asr"
	"github.com/example/go-onnx-bridge/internal/audio"
)

type streamEvent struct {
	Text     string `json:"text"`
	Endpoint bool   `json:"endpoint,omitempty"`
	Final    bool   `json:"final,omitempty"`
	OffsetMS int64  `json:"offset_ms"`
}

func newStreamCmd() *cobra.Command {
	var modelDir string
	var configJSON string
	var feedMS int
	var af audioFlags

	cmd := &cobra.Command{
		Use:   "stream <audio>",
		Short: "Run streaming recognition over a file, printing partial results as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if modelDir == "" {
				modelDir = cfg.Paths.ASRModelDir
			}
			if feedMS <= 0 {
				return fmt.Errorf("--feed-ms must be > 0")
			}

			acfg, err := af.config(args[0])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			clip, err := audio.Decode(data, acfg)
			if err != nil {
				return err
			}

			load, err := graphLoader(cfg)
			if err != nil {
				return err
			}

			rec, err := asr.NewRecognizer(modelDir, configJSON, load)
			if err != nil {
				return err
			}
			defer rec.Close()

			s, err := rec.NewStream()
			if err != nil {
				return err
			}
			defer s.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			step := max(clip.SampleRate*feedMS/1000, 1)
			last := ""
			fed := 0

			emit := func(ev streamEvent) error {
				ev.OffsetMS = audio.DurationMS(fed, clip.SampleRate)
				return enc.Encode(ev)
			}

			if len(clip.Samples) == 0 {
				s.InputFinished()
			}

			for fed < len(clip.Samples) || !s.IsEndpoint() {
				if fed < len(clip.Samples) {
					end := min(fed+step, len(clip.Samples))
					if err := s.AcceptWaveform(clip.SampleRate, clip.Samples[fed:end]); err != nil {
						return err
					}
					fed = end
					if fed == len(clip.Samples) {
						s.InputFinished()
					}
				}

				for s.IsReady() {
					if err := s.Decode(cmd.Context()); err != nil {
						return err
					}
				}

				if text := s.Result(); text != last {
					last = text
					if err := emit(streamEvent{Text: text}); err != nil {
						return err
					}
				}

				if fed < len(clip.Samples) && s.IsEndpoint() {
					if err := emit(streamEvent{Text: s.Result(), Endpoint: true}); err != nil {
						return err
					}
					s.Reset()
					last = ""
				}
			}

			return emit(streamEvent{Text: s.Result(), Final: true})
		},
	}

	cmd.Flags().StringVar(&modelDir, "model-dir", "", "Recognizer model directory (default: paths.asr_model_dir)")
	cmd.Flags().StringVar(&configJSON, "recognizer-config", "", "Recognizer config JSON (chunk_ms, enable_endpoint, rule thresholds)")
	cmd.Flags().IntVar(&feedMS, "feed-ms", 100, "Audio fed per step in milliseconds")
	af.register(cmd)

	return cmd
}
