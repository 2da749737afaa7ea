package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/model"
)

func newExtractCmd() *cobra.Command {
	var dest string
	var sum string

	cmd := &cobra.Command{
		Use:   "extract <archive|url>",
		Short: "Download or open a model archive, unpack it and report the model layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := model.Fetch(cmd.Context(), model.FetchOptions{
				Source: args[0],
				SHA256: sum,
				Dest:   dest,
				Stdout: cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("extract failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(l)
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "models", "Directory the archive is unpacked into")
	cmd.Flags().StringVar(&sum, "sha256", "", "Expected archive SHA-256 (hex)")

	return cmd
}
