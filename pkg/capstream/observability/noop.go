package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordPublish does nothing.
func (NoopMetrics) RecordPublish(_ context.Context, _ string, _ int64) {}

// RecordTrim does nothing.
func (NoopMetrics) RecordTrim(_ context.Context, _ int64) {}

// RecordOverflow does nothing.
func (NoopMetrics) RecordOverflow(_ context.Context, _ string) {}

// RecordSinkWrite does nothing.
func (NoopMetrics) RecordSinkWrite(_ context.Context, _ string, _ int, _ time.Duration, _ error) {}

// RecordSinkRetry does nothing.
func (NoopMetrics) RecordSinkRetry(_ context.Context, _ string) {}

// RecordSinkDegraded does nothing.
func (NoopMetrics) RecordSinkDegraded(_ context.Context, _ string) {}

// RecordGap does nothing.
func (NoopMetrics) RecordGap(_ context.Context, _ string, _ uint64, _ string) {}

// RecordTransition does nothing.
func (NoopMetrics) RecordTransition(_ context.Context, _, _ string) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartSessionSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartSessionSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartSinkWriteSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartSinkWriteSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
