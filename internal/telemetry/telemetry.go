package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
)

// Telemetry records hunt metrics. Outcome is a probe classification such as
// "timeout" or "found".
type Telemetry interface {
	RecordProbe(ctx context.Context, outcome string, duration time.Duration)
	RecordRun(ctx context.Context, status string, attempts int)
	Close() error
}

type telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	probeCounter  metric.Int64Counter
	probeDuration metric.Float64Histogram
	runCounter    metric.Int64Counter
}

// New installs global tracer, meter and logger providers exporting over
// OTLP/HTTP to cfg.Endpoint. The logger provider is what the zap bridge in
// the logger package writes to.
func New(ctx context.Context, cfg config.TelemetryConfig) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}
	if cfg.ExporterType != "otlp" {
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExp, err := otlptrace.New(ctx, otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	logExp, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.Endpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return newTelemetry(cfg.ServiceName, tp, mp, lp)
}

func newTelemetry(name string, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider, lp *sdklog.LoggerProvider) (*telemetry, error) {
	t := &telemetry{
		tracerProvider: tp,
		meterProvider:  mp,
		loggerProvider: lp,
	}
	if err := t.initInstruments(mp.Meter(name)); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *telemetry) initInstruments(meter metric.Meter) error {
	var err error

	t.probeCounter, err = meter.Int64Counter("oidhunt.probes.total",
		metric.WithDescription("Total number of identifier probes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	t.probeDuration, err = meter.Float64Histogram("oidhunt.probe.duration",
		metric.WithDescription("Probe round-trip time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	t.runCounter, err = meter.Int64Counter("oidhunt.runs.total",
		metric.WithDescription("Total number of hunts by final status"),
		metric.WithUnit("1"),
	)
	return err
}

func (t *telemetry) RecordProbe(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("probe.outcome", outcome))

	t.probeCounter.Add(ctx, 1, attrs)
	t.probeDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) RecordRun(ctx context.Context, status string, attempts int) {
	t.runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("run.status", status),
		attribute.Int("run.attempts", attempts),
	))
}

// Close flushes and shuts down every provider New installed.
func (t *telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

type noopTelemetry struct{}

// NewNoop returns a Telemetry that drops everything.
func NewNoop() Telemetry { return &noopTelemetry{} }

func (n *noopTelemetry) RecordProbe(context.Context, string, time.Duration) {}
func (n *noopTelemetry) RecordRun(context.Context, string, int)             {}
func (n *noopTelemetry) Close() error                                       { return nil }
