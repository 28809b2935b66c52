package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("capstream")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSessionSpan starts a span for a session lifecycle operation
	// such as start or stop.
	StartSessionSpan(ctx context.Context, op, sessionID string) (context.Context, trace.Span)

	// StartSinkWriteSpan starts a span for one batch write to a sink.
	StartSinkWriteSpan(ctx context.Context, sink string, batchSize int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSessionSpan starts a span named capstream.session.<op>.
func (m *otelSpanManager) StartSessionSpan(ctx context.Context, op, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "capstream.session."+op,
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSinkWriteSpan starts a capstream.sink.write span.
func (m *otelSpanManager) StartSinkWriteSpan(ctx context.Context, sink string, batchSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "capstream.sink.write",
		trace.WithAttributes(
			attribute.String("sink.name", sink),
			attribute.Int("batch.size", batchSize),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
