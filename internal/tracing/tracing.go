package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"offer-attribution/internal/config"
)

const defaultServiceName = "offer-attribution"

// Tracer wraps OpenTelemetry tracer functionality.
type Tracer struct {
	tp       trace.TracerProvider
	tracer   trace.Tracer
	provider *tracesdk.TracerProvider
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{tp: tp, tracer: tp.Tracer("noop")}
}

// InitTracing initializes OpenTelemetry tracing with a jaeger exporter and
// installs it as the global provider. A disabled config yields Noop().
func InitTracing(ctx context.Context, cfg config.TracingConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{tp: tp, tracer: tp.Tracer(cfg.ServiceName), provider: tp}, nil
}

// NewTracer wraps an existing provider, e.g. an in-memory recorder in tests.
func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tp: tp, tracer: tp.Tracer(defaultServiceName)}
}

// Provider returns the underlying provider, for instrumentation outside the
// service such as the HTTP middleware.
func (t *Tracer) Provider() trace.TracerProvider {
	return t.tp
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes and stops the provider created by InitTracing.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
