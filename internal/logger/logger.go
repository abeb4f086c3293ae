package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "oidhunt"

// Logger is a sugared zap logger whose records are also handed to the
// OpenTelemetry log bridge, plus a tracer for operation spans.
type Logger struct {
	*zap.SugaredLogger
	tracer trace.Tracer
}

func New(cfg config.LoggerConfig) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapConfig := baseConfig(cfg.Format)
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		zapConfig.OutputPaths = cfg.OutputPaths
	}
	zapConfig.InitialFields = map[string]interface{}{"service": serviceName}

	built, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	bridge := otelzap.NewCore(serviceName,
		otelzap.WithAttributes(attribute.String("service", serviceName)),
	)
	tee := zap.New(
		zapcore.NewTee(built.Core(), bridge),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	return &Logger{
		SugaredLogger: tee.Sugar(),
		tracer:        otel.Tracer(serviceName + "/logger"),
	}, nil
}

// baseConfig returns a colourised development config for "console" and the
// JSON production config for anything else.
func baseConfig(format string) zap.Config {
	if format == "console" {
		c := zap.NewDevelopmentConfig()
		c.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		c.EncoderConfig.TimeKey = "timestamp"
		c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return c
	}

	c := zap.NewProductionConfig()
	c.EncoderConfig.TimeKey = "timestamp"
	c.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	return c
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %w", err)
	}
	return parsed, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		tracer:        otel.Tracer(serviceName + "/nop"),
	}
}

func (l *Logger) with(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.With(fields...), tracer: l.tracer}
}

// WithContext adds the trace and span ids of a recording span in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !trace.SpanFromContext(ctx).IsRecording() || !sc.IsValid() {
		return l
	}
	return l.with("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func (l *Logger) WithComponent(component string) *Logger { return l.with("component", component) }
func (l *Logger) WithTarget(host string) *Logger         { return l.with("target", host) }
func (l *Logger) WithRunID(runID string) *Logger         { return l.with("run_id", runID) }

// LogProbe records one guess. Misses are routine and go to debug; a hit is
// logged at info. The active span gets a "probe" event either way.
func (l *Logger) LogProbe(ctx context.Context, id, url, outcome string, status int, duration time.Duration, err error) {
	fields := []interface{}{
		"id", id,
		"url", url,
		"outcome", outcome,
		"http_status", status,
		"duration_ms", duration.Milliseconds(),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}

	log := l.WithContext(ctx)
	if outcome == "found" {
		log.Infow("Probe hit", fields...)
	} else {
		log.Debugw("Probe missed", fields...)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("probe", trace.WithAttributes(
			attribute.String("id", id),
			attribute.String("outcome", outcome),
			attribute.Int("http_status", status),
			attribute.Int64("duration_ms", duration.Milliseconds()),
		))
	}
}

// StartOperation opens a span named operation and logs its start at debug.
func (l *Logger) StartOperation(ctx context.Context, operation string, fields ...interface{}) (context.Context, trace.Span) {
	ctx, span := l.tracer.Start(ctx, operation)
	l.WithContext(ctx).Debugw("Operation started", append([]interface{}{"operation", operation}, fields...)...)
	return ctx, span
}

// FinishOperation logs the outcome of an operation and ends its span.
func (l *Logger) FinishOperation(ctx context.Context, span trace.Span, operation string, start time.Time, err error, fields ...interface{}) {
	defer span.End()

	elapsed := time.Since(start)
	fields = append([]interface{}{
		"operation", operation,
		"duration_ms", elapsed.Milliseconds(),
	}, fields...)

	log := l.WithContext(ctx)
	if err != nil {
		log.Errorw("Operation failed", append(fields, "error", err.Error())...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		log.Infow("Operation completed", fields...)
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.Int64("duration_ms", elapsed.Milliseconds()),
		attribute.Bool("success", err == nil),
	)
}

type contextKey struct{}

// FromContext returns the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}
