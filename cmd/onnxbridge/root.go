package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-onnx-bridge/internal/config"
	"github.com/example/go-onnx-bridge/internal/telemetry"
)

var (
	cfgFile   string
	activeCfg config.Config

	telemetryOpts telemetryFlags
	provider      *telemetry.Provider
	metricsServer *http.Server
)

type telemetryFlags struct {
	traceStdout  bool
	otlpEndpoint string
	otlpInsecure bool
	metricsAddr  string
}

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "onnxbridge",
		Short:         "On-device speech recognition, speech synthesis and text generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return startTelemetry(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return stopTelemetry(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.PersistentFlags().BoolVar(&telemetryOpts.traceStdout, "trace-stdout", false, "Print trace spans to stderr")
	cmd.PersistentFlags().StringVar(&telemetryOpts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces (host:port)")
	cmd.PersistentFlags().BoolVar(&telemetryOpts.otlpInsecure, "otlp-insecure", false, "Disable TLS for the OTLP exporter")
	cmd.PersistentFlags().StringVar(&telemetryOpts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(newTranscribeCmd())
	cmd.AddCommand(newStreamCmd())
	cmd.AddCommand(newSynthCmd())
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := config.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func startTelemetry(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	opts := telemetry.Options{
		OTLPEndpoint: telemetryOpts.otlpEndpoint,
		OTLPInsecure: telemetryOpts.otlpInsecure,
		Prometheus:   telemetryOpts.metricsAddr != "",
	}
	if telemetryOpts.traceStdout {
		opts.TraceWriter = os.Stderr
	}

	p, err := telemetry.Setup(ctx, opts)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	provider = p

	if p.MetricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", p.MetricsHandler)
		metricsServer = &http.Server{
			Addr:              telemetryOpts.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", telemetryOpts.metricsAddr, "error", err)
			}
		}()
	}

	return nil
}

func stopTelemetry(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if metricsServer != nil {
		errs = append(errs, metricsServer.Shutdown(ctx))
		metricsServer = nil
	}
	if provider != nil {
		errs = append(errs, provider.Shutdown(ctx))
		provider = nil
	}

	return errors.Join(errs...)
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.ModelDir == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}
