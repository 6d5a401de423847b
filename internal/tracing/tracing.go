// Package tracing wires OpenTelemetry for the research service. Span helpers
// are safe to call before Initialize and when export is disabled.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultServiceName = "research-orchestrator"

// Span attribute keys shared by the engine and the API.
const (
	AttrSessionID = attribute.Key("research.session_id")
	AttrDepth     = attribute.Key("research.depth")
	AttrAspect    = attribute.Key("research.aspect")
	AttrIteration = attribute.Key("research.iteration")
)

var (
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider

	// W3C trace context only; baggage is not forwarded to providers.
	propagator = propagation.TraceContext{}
)

func activeTracer() oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer(defaultServiceName)
	}
	return tracer
}

// Config holds tracing configuration
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Initialize installs the OTLP exporter when cfg.Enabled. Disabled tracing
// still gets a tracer handle so spans are cheap no-ops.
func Initialize(cfg Config, logger *zap.Logger) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)
	tracer = provider.Tracer(cfg.ServiceName)

	logger.Info("Tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("endpoint", cfg.OTLPEndpoint),
	)
	return nil
}

// Shutdown flushes pending spans. It is a no-op when tracing is disabled.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// StartSpan creates a new internal span.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return activeTracer().Start(ctx, spanName, oteltrace.WithAttributes(attrs...))
}

// StartSessionSpan opens the root span of one research run.
func StartSessionSpan(ctx context.Context, sessionID, depth string) (context.Context, oteltrace.Span) {
	return StartSpan(ctx, "research.session", AttrSessionID.String(sessionID), AttrDepth.String(depth))
}

// StartSubagentSpan opens a span for one aspect investigation.
func StartSubagentSpan(ctx context.Context, aspect string, iteration int) (context.Context, oteltrace.Span) {
	return StartSpan(ctx, "research.subagent", AttrAspect.String(aspect), AttrIteration.Int(iteration))
}

// StartHTTPSpan creates a client span for an outgoing provider request.
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, oteltrace.Span) {
	return activeTracer().Start(ctx, "HTTP "+method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(url),
		),
	)
}

// StartServerSpan continues any trace carried by r's traceparent header and
// opens a server span for the request.
func StartServerSpan(r *http.Request) (context.Context, oteltrace.Span) {
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return activeTracer().Start(ctx, "HTTP "+r.Method,
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
}

// InjectTraceparent writes the W3C traceparent of ctx's span onto req.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// TraceID returns the hex trace id of ctx's span, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
