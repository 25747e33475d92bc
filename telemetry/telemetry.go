// Package telemetry installs the OpenTelemetry trace and metric providers
// used by the stages, exporting through OTLP.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config is the configuration of the providers.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceSampleRatio is the fraction of traces recorded.
	TraceSampleRatio float64
	// MetricInterval is the export period of the metrics.
	MetricInterval time.Duration
}

func NewDefaultConfig() *Config {
	return &Config{
		ServiceName:    "seda",
		ServiceVersion: "0.1.0",

		TraceSampleRatio: 0.05,
		MetricInterval:   time.Second,
	}
}

// Providers holds the installed providers.
type Providers struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Init creates the OTLP exporters and installs the global providers.
// The exporters read their endpoints from the standard OTEL_EXPORTER_OTLP_* variables.
func Init(ctx context.Context, cfg *Config) (*Providers, error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Trace
	traceExporter, err := newTraceExporter(ctx)
	if err != nil {
		return nil, err
	}
	tracerProvider := newTraceProvider(res, traceExporter, cfg.TraceSampleRatio)
	otel.SetTracerProvider(tracerProvider)

	// Trace Propagator
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Meter
	meterExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, errors.Join(err, tracerProvider.Shutdown(ctx))
	}
	meterProvider := newMeterProvider(res, meterExporter, cfg.MetricInterval)
	otel.SetMeterProvider(meterProvider)

	return &Providers{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}, nil
}

// Close flushes and stops the providers.
func (p *Providers) Close(ctx context.Context) error {
	return errors.Join(
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}

func newTraceExporter(ctx context.Context) (*otlptrace.Exporter, error) {
	return otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
}

func newTraceProvider(res *resource.Resource, exporter sdktrace.SpanExporter, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
}

func newMeterProvider(res *resource.Resource, exporter sdkmetric.Exporter, interval time.Duration) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		),
	)
}
