// Package observability provides logging, metrics, and tracing for the
// capture pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with session_id and component fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "0190f0a8-...", "dispatch")
//	enriched.Info("sink attached") // includes session_id, component
func EnrichLogger(logger *slog.Logger, sessionID, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("session_id", sessionID),
		slog.String("component", component),
	)
}

// LogSessionState logs a session lifecycle transition.
func LogSessionState(logger *slog.Logger, sessionID, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("session state changed",
		slog.String("session_id", sessionID),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogGap logs a range of sequence numbers a producer never delivered.
func LogGap(logger *slog.Logger, source string, first, last uint64, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("capture gap",
		slog.String("source", source),
		slog.Uint64("first_seq", first),
		slog.Uint64("last_seq", last),
		slog.Uint64("count", last-first+1),
		slog.String("reason", reason),
	)
}

// LogOverflow logs a publish that timed out waiting for bus capacity.
func LogOverflow(logger *slog.Logger, source string, seq uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("bus overflow, envelope dropped",
		slog.String("source", source),
		slog.Uint64("logical_seq", seq),
		slog.String("error", err.Error()),
	)
}

// LogLoss logs envelopes a sink will never receive.
func LogLoss(logger *slog.Logger, sink string, firstOffset, lastOffset uint64, count int, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("sink data loss",
		slog.String("sink", sink),
		slog.Uint64("first_offset", firstOffset),
		slog.Uint64("last_offset", lastOffset),
		slog.Int("count", count),
		slog.String("reason", reason),
	)
}

// LogSinkDegraded logs a sink that exhausted its retries.
func LogSinkDegraded(logger *slog.Logger, sink string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("sink degraded",
		slog.String("sink", sink),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogSinkRecovered logs a degraded sink accepting writes again.
func LogSinkRecovered(logger *slog.Logger, sink string, downtime time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("sink recovered",
		slog.String("sink", sink),
		slog.Float64("downtime_ms", float64(downtime.Milliseconds())),
	)
}

// LogTruncation logs a shutdown step abandoned after its timeout.
func LogTruncation(logger *slog.Logger, unit string, timeout time.Duration, detail string) {
	if logger == nil {
		return
	}
	logger.Warn("shutdown truncated",
		slog.String("unit", unit),
		slog.Duration("timeout", timeout),
		slog.String("detail", detail),
	)
}

// LogCursorError logs a cursor persistence failure (non-fatal).
func LogCursorError(logger *slog.Logger, sink string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("cursor persistence failed",
		slog.String("sink", sink),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
