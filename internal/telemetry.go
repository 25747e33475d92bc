package internal

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/squadracorsepolito/seda"

// Telemetry bundles the logger, the tracer and the meter of a component.
type Telemetry struct {
	kind string
	name string

	l *Logger

	tracer trace.Tracer
	meter  metric.Meter
}

func NewTelemetry(kind, name string) *Telemetry {
	return &Telemetry{
		kind: kind,
		name: name,

		l: NewLogger(kind, name),

		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
		meter:  otel.GetMeterProvider().Meter(instrumentationName),
	}
}

func (t *Telemetry) Logger() *Logger {
	return t.l
}

func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.l.Debug(msg, args...)
}

func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.l.Info(msg, args...)
}

func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.l.Warn(msg, args...)
}

func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.l.Error(msg, err, args...)
}

func (t *Telemetry) setDefaultAttributes(span trace.Span) {
	span.SetAttributes(
		attribute.String("seda.kind", t.kind),
		attribute.String("seda.name", t.name),
	)
}

func (t *Telemetry) NewTrace(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, spanName, opts...)
	t.setDefaultAttributes(span)
	return ctx, span
}

func (t *Telemetry) getMeterName(name string) string {
	return fmt.Sprintf("%s_%s_%s", t.kind, t.name, name)
}

func (t *Telemetry) NewCounter(name string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	counterName := t.getMeterName(name)
	counter, err := t.meter.Int64Counter(counterName, opts...)
	if err != nil {
		t.LogError("failed to create counter", err, "name", counterName)
		return noop.Int64Counter{}
	}

	return counter
}

func (t *Telemetry) NewHistogram(name string, opts ...metric.Int64HistogramOption) metric.Int64Histogram {
	histogramName := t.getMeterName(name)
	histogram, err := t.meter.Int64Histogram(histogramName, opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "name", histogramName)
		return noop.Int64Histogram{}
	}

	return histogram
}

// NewGauge registers an asynchronous gauge whose value
// is read from fn at every collection.
func (t *Telemetry) NewGauge(name string, fn func() int64, opts ...metric.Int64ObservableGaugeOption) {
	gaugeName := t.getMeterName(name)

	opts = append(opts, metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
		o.Observe(fn())
		return nil
	}))

	if _, err := t.meter.Int64ObservableGauge(gaugeName, opts...); err != nil {
		t.LogError("failed to create gauge", err, "name", gaugeName)
	}
}
