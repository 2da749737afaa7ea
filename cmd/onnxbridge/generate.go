package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/llm"
)

func newGenerateCmd() *cobra.Command {
	var prompt string
	var messagesJSON string
	var system string
	var modelDir string
	var maxTokens int
	var temperature float64
	var printJSON bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a chat reply, streaming tokens to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if modelDir == "" {
				modelDir = cfg.Paths.ModelDir
			}
			if !cmd.Flags().Changed("max-tokens") {
				maxTokens = cfg.LLM.MaxTokens
			}
			if !cmd.Flags().Changed("temperature") {
				temperature = cfg.LLM.Temperature
			}

			if messagesJSON == "" {
				if prompt == "" {
					return fmt.Errorf("one of --prompt or --messages is required")
				}
				data, err := json.Marshal([]llm.Message{{Role: llm.RoleUser, Content: prompt}})
				if err != nil {
					return err
				}
				messagesJSON = string(data)
			}

			s, err := openSession(cfg, modelDir, engine.TextToText)
			if err != nil {
				return err
			}
			defer s.Close()

			w := cmd.OutOrStdout()
			onToken := func(tok string) { _, _ = fmt.Fprint(w, tok) }
			if printJSON {
				onToken = nil
			}

			out, err := s.GenerateTextStream(cmd.Context(), messagesJSON, system, maxTokens, temperature, onToken)
			if err != nil {
				return err
			}

			if printJSON {
				_, err = fmt.Fprintln(w, out)
			} else {
				_, err = fmt.Fprintln(w)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "User message")
	cmd.Flags().StringVar(&messagesJSON, "messages", "", `Conversation as JSON ([{"role":"user","content":"..."}])`)
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().StringVar(&modelDir, "model-dir", "", "Decoder model directory (default: paths.model_dir)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "Maximum tokens to generate")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "Sampling temperature (0 = greedy)")
	cmd.Flags().BoolVar(&printJSON, "json", false, "Print the result JSON instead of streaming tokens")

	return cmd
}
