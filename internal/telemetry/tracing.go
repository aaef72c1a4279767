package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer and opens a span wherever a caller
// invokes Start. The Agent, provider adapters and tool Executor do not call
// it, so turns, provider calls and tool executions get no spans of their own.
//
// Usage:
//
//	tracer, shutdown := telemetry.NewTracer(telemetry.TraceConfig{
//	    ServiceName: "lace",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "agent.turn")
//	defer span.End()
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP collector endpoint (e.g. "localhost:4317").
	// If empty, tracing is disabled and Start returns no-op spans.
	Endpoint string

	// SamplingRate controls the fraction of traces recorded. Defaults to 1.0.
	SamplingRate float64

	Attributes map[string]string

	// EnableInsecure disables TLS on the OTLP connection (dev/testing only).
	EnableInsecure bool
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer builds a Tracer from config and returns a shutdown function that
// must be called on exit. An empty Endpoint yields a no-op tracer.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(serviceNameOrDefault(config)), config: config},
			func(context.Context) error { return nil }
	}

	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}
	if config.ServiceName == "" {
		config.ServiceName = "lace"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config},
			func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}
	return tracer, func(ctx context.Context) error { return provider.Shutdown(ctx) }
}

func serviceNameOrDefault(c TraceConfig) string {
	if c.ServiceName == "" {
		return "lace"
	}
	return c.ServiceName
}

// Start creates a new span and returns a context containing it.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// RecordError records an error on span and sets its status to error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs as attributes on span.
// Non-string keys and trailing unpaired values are skipped.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFor(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

func attributeFor(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case bool:
		return attribute.Bool(key, val)
	default:
		return attribute.String(key, "")
	}
}
