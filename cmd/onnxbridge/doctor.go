package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/doctor"
	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/onnx"
)

func newDoctorCmd() *cobra.Command {
	var skipRuntime bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "backend: %s\n", cfg.Runtime.Backend)

			result := doctor.Run(doctor.Config{
				RuntimeVersion: func() (string, error) { return probeRuntime(cfg.Runtime) },
				SkipRuntime:    skipRuntime,
				MinAPIVersion:  cfg.Runtime.APIVersion,
				ModelDirs:      uniqueDirs(cfg.Paths.ModelDir, cfg.Paths.ASRModelDir, cfg.Paths.TTSModelDir),
				InspectModel:   inspectModel,
			}, w)

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(w, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipRuntime, "skip-runtime", false, "Skip the ONNX Runtime load check")

	return cmd
}

func probeRuntime(cfg config.RuntimeConfig) (string, error) {
	info, err := onnx.Bootstrap(cfg)
	if err != nil {
		return "", err
	}

	return info.Version, nil
}

// inspectModel summarizes the graphs and vocabularies of a model directory.
// Missing directories are reported as failures.
func inspectModel(dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", err
	}

	l, err := model.Discover(dir)
	if err != nil {
		return "", err
	}

	parts := []string{}
	if l.Manifest != "" {
		m, err := onnx.LoadManifest(l.Dir)
		if err != nil {
			return "", err
		}
		parts = append(parts, "graphs="+strings.Join(m.Names(), ","))
	} else {
		parts = append(parts, fmt.Sprintf("graphs=%d (no manifest)", len(l.Graphs)))
	}

	if l.Tokens != "" {
		parts = append(parts, "tokens.txt")
	}
	if l.Tokenizer != "" {
		parts = append(parts, model.TokenizerModelFile)
	}

	return strings.Join(parts, " "), nil
}

func uniqueDirs(dirs ...string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}

	return out
}
