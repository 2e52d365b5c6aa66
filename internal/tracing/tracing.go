// Package tracing sets up the OpenTelemetry pipeline and carries request
// identifiers through context.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"agentgate/internal/config"
)

const tracerName = "agentgate"

// Manager owns the tracer provider lifecycle.
type Manager struct {
	cfg      config.TracingConfig
	logger   *logrus.Logger
	provider *trace.TracerProvider
}

// NewManager builds an uninitialized manager.
func NewManager(cfg config.TracingConfig, logger *logrus.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Initialize builds the exporter and installs the global tracer provider.
// A disabled config is a no-op.
func (m *Manager) Initialize(ctx context.Context, version string) error {
	if !m.cfg.Enabled {
		m.logger.Info("tracing disabled")
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tracerName),
			semconv.ServiceVersionKey.String(version),
			semconv.DeploymentEnvironmentKey.String(m.cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter trace.SpanExporter
	if m.cfg.UseStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	} else {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(m.cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create otlp exporter: %w", err)
		}
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.cfg.SampleRate)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	m.logger.WithFields(logrus.Fields{
		"sample_rate": m.cfg.SampleRate,
		"stdout":      m.cfg.UseStdout,
	}).Info("tracing initialized")
	return nil
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

// StartSpan opens a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return spanCtx, span
}

// AddSpanAttributes annotates the current span, if one is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// SetSpanStatus marks the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordError attaches an error to the current span.
func RecordError(ctx context.Context, err error) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// NewRequestID mints a request identifier for log correlation.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores the identifier in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID reads the identifier back, empty when absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// TraceID returns the current span's trace id for log correlation.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
