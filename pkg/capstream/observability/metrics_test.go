package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns its reader.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor totals an int64 sum's data points whose attribute key equals value.
func sumFor(t *testing.T, rm *metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not recorded", name)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] for %s", name)

	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestBusMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordPublish(ctx, "screen", 100)
	m.RecordPublish(ctx, "screen", 50)
	m.RecordPublish(ctx, "audio", 10)
	m.RecordTrim(ctx, 100)
	m.RecordOverflow(ctx, "input")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, rm, "capstream.bus.published", "source", "screen"))
	assert.Equal(t, int64(1), sumFor(t, rm, "capstream.bus.published", "source", "audio"))
	assert.Equal(t, int64(60), sumFor(t, rm, "capstream.bus.retained_bytes", "", ""))
	assert.Equal(t, int64(1), sumFor(t, rm, "capstream.bus.overflows", "source", "input"))
}

func TestSinkMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSinkWrite(ctx, "file", 25, 3*time.Millisecond, nil)
	m.RecordSinkWrite(ctx, "broker", 25, time.Millisecond, errors.New("refused"))
	m.RecordSinkRetry(ctx, "broker")
	m.RecordSinkDegraded(ctx, "broker")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(25), sumFor(t, rm, "capstream.sink.delivered", "sink", "file"))
	assert.Equal(t, int64(0), sumFor(t, rm, "capstream.sink.delivered", "sink", "broker"))
	assert.Equal(t, int64(1), sumFor(t, rm, "capstream.sink.write_errors", "sink", "broker"))
	assert.Equal(t, int64(1), sumFor(t, rm, "capstream.sink.retries", "sink", "broker"))
	assert.Equal(t, int64(1), sumFor(t, rm, "capstream.sink.degraded", "sink", "broker"))

	latency := findMetric(rm, "capstream.sink.write_latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)
}

func TestProducerAndSessionMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordGap(ctx, "screen", 3, "capture_dropped")
	m.RecordTransition(ctx, "created", "active")
	m.RecordTransition(ctx, "active", "stopping")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(3), sumFor(t, rm, "capstream.producer.gaps", "reason", "capture_dropped"))
	assert.Equal(t, int64(2), sumFor(t, rm, "capstream.session.transitions", "", ""))
	assert.Equal(t, int64(1), sumFor(t, rm, "capstream.session.transitions", "to", "stopping"))
}
