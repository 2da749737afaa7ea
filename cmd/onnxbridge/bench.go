package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/bench"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/llm"
)

func newBenchCmd() *cobra.Command {
	var (
		task         string
		text         string
		audioPath    string
		modelDir     string
		maxTokens    int
		runs         int
		format       string
		rtfThreshold float64
		af           audioFlags
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark latency, realtime factor and token throughput",
		Long: "Benchmark one engine operation over repeated runs. --task synth and " +
			"transcribe report the realtime factor; generate reports tokens per second.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			var modality engine.Modality
			var defaultDir string
			switch task {
			case "synth":
				modality, defaultDir = engine.TextToVoice, cfg.Paths.TTSModelDir
			case "transcribe":
				modality, defaultDir = engine.VoiceToText, cfg.Paths.ASRModelDir
			case "generate":
				modality, defaultDir = engine.TextToText, cfg.Paths.ModelDir
			default:
				return fmt.Errorf("--task must be synth, transcribe or generate")
			}
			if modelDir == "" {
				modelDir = defaultDir
			}
			if task != "transcribe" && strings.TrimSpace(text) == "" {
				return fmt.Errorf("--text is required for %s", task)
			}

			run, err := benchRunner(task, text, audioPath, maxTokens, &af)
			if err != nil {
				return err
			}

			s, err := openSession(cfg, modelDir, modality)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := bench.Measure(cmd.Context(), runs, func(ctx context.Context) (bench.Run, error) {
				return run(ctx, s)
			})
			if err != nil {
				return err
			}

			stats := bench.Summarize(results)
			if format == "json" {
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			} else {
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&task, "task", "synth", "Operation to benchmark (synth|transcribe|generate)")
	cmd.Flags().StringVar(&text, "text", "Hello from the bridge.", "Input text for synth, prompt for generate")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Input audio for transcribe")
	cmd.Flags().StringVar(&modelDir, "model-dir", "", "Model directory (default: the configured directory for the task)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 64, "Token bound for generate")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Fail when the mean realtime factor exceeds this (0 = off)")
	af.register(cmd)

	return cmd
}

type benchFunc func(ctx context.Context, s *engine.Session) (bench.Run, error)

func benchRunner(task, text, audioPath string, maxTokens int, af *audioFlags) (benchFunc, error) {
	switch task {
	case "synth":
		return func(ctx context.Context, s *engine.Session) (bench.Run, error) {
			_, ms, err := s.Synthesize(ctx, text, "", audio.Config{Format: audio.FormatPCM}, 1, 0)
			if err != nil {
				return bench.Run{}, err
			}
			return bench.Run{Audio: time.Duration(ms) * time.Millisecond}, nil
		}, nil

	case "transcribe":
		if audioPath == "" {
			return nil, fmt.Errorf("--audio is required for transcribe")
		}
		acfg, err := af.config(audioPath)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		return func(ctx context.Context, s *engine.Session) (bench.Run, error) {
			out, err := s.Transcribe(ctx, data, acfg, "")
			if err != nil {
				return bench.Run{}, err
			}
			var tr engine.Transcription
			if err := json.Unmarshal([]byte(out), &tr); err != nil {
				return bench.Run{}, err
			}
			return bench.Run{Audio: time.Duration(tr.DurationMS) * time.Millisecond}, nil
		}, nil

	default:
		messages, err := json.Marshal([]llm.Message{{Role: llm.RoleUser, Content: text}})
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, s *engine.Session) (bench.Run, error) {
			out, err := s.GenerateText(ctx, string(messages), "", maxTokens, 0)
			if err != nil {
				return bench.Run{}, err
			}
			var res llm.Result
			if err := json.Unmarshal([]byte(out), &res); err != nil {
				return bench.Run{}, err
			}
			return bench.Run{Tokens: res.TokensGenerated}, nil
		}, nil
	}
}
