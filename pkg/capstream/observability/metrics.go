package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an envelope admitted to a bus.
	RecordPublish(ctx context.Context, source string, sizeBytes int64)

	// RecordTrim records bytes released by a bus after every subscriber acked them.
	RecordTrim(ctx context.Context, sizeBytes int64)

	// RecordOverflow records a publish that timed out waiting for capacity.
	RecordOverflow(ctx context.Context, source string)

	// RecordSinkWrite records one batch write attempt.
	RecordSinkWrite(ctx context.Context, sink string, count int, duration time.Duration, err error)

	// RecordSinkRetry records a retried sink write.
	RecordSinkRetry(ctx context.Context, sink string)

	// RecordSinkDegraded records a sink entering the degraded state.
	RecordSinkDegraded(ctx context.Context, sink string)

	// RecordGap records sequence numbers a producer skipped.
	RecordGap(ctx context.Context, source string, count uint64, reason string)

	// RecordTransition records a session state change.
	RecordTransition(ctx context.Context, from, to string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published     metric.Int64Counter
	overflows     metric.Int64Counter
	retainedBytes metric.Int64UpDownCounter
	delivered     metric.Int64Counter
	writeLatency  metric.Float64Histogram
	writeErrors   metric.Int64Counter
	retries       metric.Int64Counter
	degraded      metric.Int64Counter
	gaps          metric.Int64Counter
	transitions   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("capstream")
	m := &otelMetrics{}
	var err error

	if m.published, err = meter.Int64Counter("capstream.bus.published",
		metric.WithDescription("Envelopes admitted to a session bus"),
	); err != nil {
		return nil, err
	}

	if m.overflows, err = meter.Int64Counter("capstream.bus.overflows",
		metric.WithDescription("Publishes rejected after the backpressure timeout"),
	); err != nil {
		return nil, err
	}

	if m.retainedBytes, err = meter.Int64UpDownCounter("capstream.bus.retained_bytes",
		metric.WithDescription("Payload bytes retained by session buses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.delivered, err = meter.Int64Counter("capstream.sink.delivered",
		metric.WithDescription("Envelopes written to sinks"),
	); err != nil {
		return nil, err
	}

	if m.writeLatency, err = meter.Float64Histogram("capstream.sink.write_latency_ms",
		metric.WithDescription("Sink batch write latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.writeErrors, err = meter.Int64Counter("capstream.sink.write_errors",
		metric.WithDescription("Failed sink batch writes"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter("capstream.sink.retries",
		metric.WithDescription("Retried sink batch writes"),
	); err != nil {
		return nil, err
	}

	if m.degraded, err = meter.Int64Counter("capstream.sink.degraded",
		metric.WithDescription("Sinks that exhausted their retries"),
	); err != nil {
		return nil, err
	}

	if m.gaps, err = meter.Int64Counter("capstream.producer.gaps",
		metric.WithDescription("Sequence numbers skipped by producers"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter("capstream.session.transitions",
		metric.WithDescription("Session state transitions"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records an admitted envelope.
func (m *otelMetrics) RecordPublish(ctx context.Context, source string, sizeBytes int64) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	m.retainedBytes.Add(ctx, sizeBytes)
}

// RecordTrim records released bytes.
func (m *otelMetrics) RecordTrim(ctx context.Context, sizeBytes int64) {
	m.retainedBytes.Add(ctx, -sizeBytes)
}

// RecordOverflow records a rejected publish.
func (m *otelMetrics) RecordOverflow(ctx context.Context, source string) {
	m.overflows.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordSinkWrite records a batch write attempt.
func (m *otelMetrics) RecordSinkWrite(ctx context.Context, sink string, count int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("sink", sink))

	m.writeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.writeErrors.Add(ctx, 1, attrs)
		return
	}
	m.delivered.Add(ctx, int64(count), attrs)
}

// RecordSinkRetry records a retry.
func (m *otelMetrics) RecordSinkRetry(ctx context.Context, sink string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordSinkDegraded records a degraded sink.
func (m *otelMetrics) RecordSinkDegraded(ctx context.Context, sink string) {
	m.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordGap records skipped sequence numbers.
func (m *otelMetrics) RecordGap(ctx context.Context, source string, count uint64, reason string) {
	m.gaps.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}

// RecordTransition records a state change.
func (m *otelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
