// Package telemetry records spans and metrics around the blocking bridge
// calls through the OpenTelemetry API. Exporters are installed by Setup or
// by the host application; without them every instrument is a no-op.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/example/go-onnx-bridge/internal/status"
)

const scope = "github.com/example/go-onnx-bridge"

// Instruments bundles the tracer and metric instruments of the bridge.
type Instruments struct {
	tracer trace.Tracer
	meter  metric.Meter

	calls    metric.Int64Counter
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
	audio    metric.Float64Counter
}

// New creates instruments on the given providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	in := &Instruments{
		tracer: tp.Tracer(scope),
		meter:  mp.Meter(scope),
	}

	var err error
	if in.calls, err = in.meter.Int64Counter("onnxbridge.calls",
		metric.WithDescription("Blocking bridge calls by operation and result code")); err != nil {
		return nil, err
	}

	if in.duration, err = in.meter.Float64Histogram("onnxbridge.call.duration",
		metric.WithDescription("Latency of blocking bridge calls"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	if in.tokens, err = in.meter.Int64Counter("onnxbridge.llm.tokens",
		metric.WithDescription("Tokens produced by text generation")); err != nil {
		return nil, err
	}

	if in.audio, err = in.meter.Float64Counter("onnxbridge.audio.seconds",
		metric.WithDescription("Audio processed or produced, by direction"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return in, nil
}

var (
	defaultOnce sync.Once
	defaultInst *Instruments
)

// Default returns instruments bound to the global otel providers. Providers
// installed later through otel.SetTracerProvider and otel.SetMeterProvider
// are picked up by the global delegates.
func Default() *Instruments {
	defaultOnce.Do(func() {
		in, err := New(otel.GetTracerProvider(), otel.GetMeterProvider())
		if err != nil {
			otel.Handle(err)
			in, _ = New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
		}
		defaultInst = in
	})

	return defaultInst
}

// Track starts a span for op and returns a function that ends it, recording
// latency and the result code of err.
func (in *Instruments) Track(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := in.tracer.Start(ctx, op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		code := status.CodeOf(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code.String())
		}
		span.SetAttributes(attribute.String("onnxbridge.result", code.String()))
		span.End()

		set := metric.WithAttributeSet(attribute.NewSet(
			attribute.String("op", op),
			attribute.String("result", code.String()),
		))
		in.calls.Add(context.Background(), 1, set)
		in.duration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000, set)
	}
}

// Tokens counts generated tokens.
func (in *Instruments) Tokens(ctx context.Context, n int) {
	if n > 0 {
		in.tokens.Add(ctx, int64(n))
	}
}

// Audio counts seconds of audio; direction is "in" for recognition and
// "out" for synthesis.
func (in *Instruments) Audio(ctx context.Context, direction string, seconds float64) {
	if seconds > 0 {
		in.audio.Add(ctx, seconds, metric.WithAttributes(attribute.String("direction", direction)))
	}
}

// ObserveLive registers a gauge of live handles per kind, read from count
// on every collection. The returned function unregisters it.
func (in *Instruments) ObserveLive(count func() map[string]int64) (func() error, error) {
	gauge, err := in.meter.Int64ObservableGauge("onnxbridge.handles.live",
		metric.WithDescription("Live handles by kind"))
	if err != nil {
		return nil, err
	}

	reg, err := in.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for kind, n := range count() {
			obs.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("kind", kind)))
		}
		return nil
	}, gauge)
	if err != nil {
		return nil, err
	}

	return reg.Unregister, nil
}
