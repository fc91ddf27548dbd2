package observability

import (
	"context"
	"fmt"

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

// Tracer wraps an OpenTelemetry tracer with span helpers for the inbound
// pipeline, LLM calls and tool calls.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig selects the OTLP exporter. Tracing is off without an endpoint.
type TraceConfig struct {
	ServiceName string `yaml:"service_name" json:"service_name"`
	// ServiceVersion is stamped from the build, not the file.
	ServiceVersion string `yaml:"-" json:"-"`
	Environment    string `yaml:"environment" json:"environment"`
	// Endpoint is an OTLP/gRPC collector address such as localhost:4317.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// SamplingRate is the fraction of root spans kept, 0 through 1.
	SamplingRate float64           `yaml:"sampling_rate" json:"sampling_rate"`
	Attributes   map[string]string `yaml:"attributes" json:"attributes,omitempty"`
	// EnableInsecure sends spans without TLS.
	EnableInsecure bool `yaml:"insecure" json:"insecure"`
}

// NewTracer builds a tracer and the shutdown func that flushes it. Without
// an endpoint, or when the exporter cannot be created, spans go to the
// global no-op provider.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "nexushub"
	}
	fallback := &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return fallback, noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return fallback, noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(traceResource(config)),
		sdktrace.WithSampler(traceSampler(config.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName), config: config}, provider.Shutdown
}

func traceResource(config TraceConfig) *resource.Resource {
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
		return resource.Default()
	}
	return res
}

// traceSampler keeps every trace for rates outside (0, 1).
func traceSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// NewTracerFromProvider wraps an existing trace provider.
func NewTracerFromProvider(name string, tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), config: TraceConfig{ServiceName: name}}
}

// NoopTracer returns a tracer backed by the global provider.
func NoopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer("nexushub")}
}

// Start creates a new span and returns a context containing it.
func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return NoopTracer().Start(ctx, name, kind, attrs...)
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// MarkState adds an orchestration state transition event to the span.
func MarkState(span trace.Span, state string) {
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", state)))
}

// TraceInbound starts the span covering one inbound message.
func (t *Tracer) TraceInbound(ctx context.Context, tenantID, channel, messageID string) (context.Context, trace.Span) {
	return t.Start(ctx, "process_inbound_message", trace.SpanKindServer,
		attribute.String("tenant.id", tenantID),
		attribute.String("channel", channel),
		attribute.String("message.id", messageID),
	)
}

// TraceLLMCall starts a span for one resilient LLM call.
func (t *Tracer) TraceLLMCall(ctx context.Context, provider, model string, step int) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Int("llm.step", step),
	)
}

// TraceToolCall starts a span for one tool execution.
func (t *Tracer) TraceToolCall(ctx context.Context, tool, provider string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", tool), trace.SpanKindInternal,
		attribute.String("tool.name", tool),
		attribute.String("tool.provider", provider),
	)
}

// GetTraceID returns the active trace id, or "" outside a span.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
