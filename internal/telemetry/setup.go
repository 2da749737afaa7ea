package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Options selects exporters for Setup. Zero values disable each exporter.
type Options struct {
	ServiceName  string
	OTLPEndpoint string
	OTLPInsecure bool
	// TraceWriter receives pretty-printed spans when no OTLP endpoint is set.
	TraceWriter io.Writer
	Prometheus  bool
}

// Provider is the result of Setup.
type Provider struct {
	// MetricsHandler serves Prometheus metrics; nil unless requested.
	MetricsHandler http.Handler

	shutdown []func(context.Context) error
}

// Shutdown flushes and stops the installed providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Setup installs global trace and meter providers for a process that owns
// its telemetry (the CLI). Library hosts install their own instead.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	name := opts.ServiceName
	if name == "" {
		name = "onnxbridge"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, err
	}

	p := &Provider{}

	exporter, kind, err := traceExporter(ctx, opts)
	if err != nil {
		return nil, err
	}

	if exporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		p.shutdown = append(p.shutdown, tp.Shutdown)
		slog.Info("telemetry initialized", "exporter", kind)
	}

	if opts.Prometheus {
		promExporter, err := prometheus.New()
		if err != nil {
			slog.Warn("failed to initialize prometheus exporter", "error", err)
		} else {
			mp := sdkmetric.NewMeterProvider(
				sdkmetric.WithReader(promExporter),
				sdkmetric.WithResource(res),
			)
			otel.SetMeterProvider(mp)
			p.shutdown = append(p.shutdown, mp.Shutdown)
			p.MetricsHandler = promhttp.Handler()
		}
	}

	return p, nil
}

func traceExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(opts.OTLPEndpoint); endpoint != "" {
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if opts.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}

		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		return exp, "otlp", err
	}

	if opts.TraceWriter != nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.TraceWriter), stdouttrace.WithPrettyPrint())
		return exp, "stdout", err
	}

	return nil, "", nil
}
