package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newJSONLogger returns a debug-level JSON logger writing into buf.
func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// lastRecord decodes the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds session and component", func(t *testing.T) {
		var buf bytes.Buffer
		logger := EnrichLogger(newJSONLogger(&buf), "sess-1", "dispatch")
		logger.Info("hello")

		rec := lastRecord(t, &buf)
		assert.Equal(t, "sess-1", rec["session_id"])
		assert.Equal(t, "dispatch", rec["component"])
	})

	t.Run("nil logger stays nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "s", "c"))
	})
}

func TestLogHelpers(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*slog.Logger)
		level string
		msg   string
		attrs map[string]any
	}{
		{
			name:  "session state",
			log:   func(l *slog.Logger) { LogSessionState(l, "s1", "active", "paused") },
			level: "INFO",
			msg:   "session state changed",
			attrs: map[string]any{"from": "active", "to": "paused"},
		},
		{
			name:  "gap",
			log:   func(l *slog.Logger) { LogGap(l, "screen", 5, 7, "capture_dropped") },
			level: "WARN",
			msg:   "capture gap",
			attrs: map[string]any{"first_seq": float64(5), "last_seq": float64(7), "count": float64(3)},
		},
		{
			name:  "overflow",
			log:   func(l *slog.Logger) { LogOverflow(l, "audio", 9, errors.New("full")) },
			level: "WARN",
			msg:   "bus overflow, envelope dropped",
			attrs: map[string]any{"source": "audio", "error": "full"},
		},
		{
			name:  "loss",
			log:   func(l *slog.Logger) { LogLoss(l, "broker", 10, 19, 10, "drain_timeout") },
			level: "WARN",
			msg:   "sink data loss",
			attrs: map[string]any{"sink": "broker", "count": float64(10), "reason": "drain_timeout"},
		},
		{
			name:  "degraded",
			log:   func(l *slog.Logger) { LogSinkDegraded(l, "broker", 5, errors.New("refused")) },
			level: "ERROR",
			msg:   "sink degraded",
			attrs: map[string]any{"attempts": float64(5)},
		},
		{
			name:  "recovered",
			log:   func(l *slog.Logger) { LogSinkRecovered(l, "broker", 2*time.Second) },
			level: "INFO",
			msg:   "sink recovered",
			attrs: map[string]any{"downtime_ms": float64(2000)},
		},
		{
			name:  "truncation",
			log:   func(l *slog.Logger) { LogTruncation(l, "adapter:screen", time.Second, "still polling") },
			level: "WARN",
			msg:   "shutdown truncated",
			attrs: map[string]any{"unit": "adapter:screen"},
		},
		{
			name:  "cursor error",
			log:   func(l *slog.Logger) { LogCursorError(l, "file", "save", errors.New("disk full")) },
			level: "WARN",
			msg:   "cursor persistence failed",
			attrs: map[string]any{"operation": "save"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(newJSONLogger(&buf))

			rec := lastRecord(t, &buf)
			assert.Equal(t, tt.level, rec["level"])
			assert.Equal(t, tt.msg, rec["msg"])
			for k, v := range tt.attrs {
				assert.Equal(t, v, rec[k], "attribute %s", k)
			}
		})
	}
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogSessionState(nil, "s", "a", "b")
		LogGap(nil, "screen", 1, 1, "x")
		LogOverflow(nil, "screen", 1, errors.New("x"))
		LogLoss(nil, "s", 0, 0, 0, "x")
		LogSinkDegraded(nil, "s", 1, errors.New("x"))
		LogSinkRecovered(nil, "s", 0)
		LogTruncation(nil, "u", 0, "")
		LogCursorError(nil, "s", "save", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5*time.Millisecond)
}
