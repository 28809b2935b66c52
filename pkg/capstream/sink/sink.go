// Package sink defines the destinations a session's event stream is
// delivered to, and the file, broker, object storage and in-memory
// implementations.
//
// A sink receives batches in bus order. Write may be retried by the
// dispatcher with the same batch after an error, so every sink here skips
// envelopes it has already accepted (IDs are ordered, so this is a single
// comparison against the last accepted ID).
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

// Health is a sink's self-reported state.
type Health string

// Health values.
const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
)

// ErrClosed is returned by operations on a closed sink.
var ErrClosed = errors.New("sink: closed")

// Sink is a delivery destination.
type Sink interface {
	// Name identifies the sink within a session.
	Name() string

	// Write hands the batch to the destination, or returns an error.
	// Errors wrapped as transient are retried. A sink that buffers
	// accepted records implements Committer.
	Write(ctx context.Context, batch []envelope.Envelope) error

	// Flush pushes any buffered records.
	Flush(ctx context.Context) error

	// HealthCheck probes the destination.
	HealthCheck(ctx context.Context) Health

	// Close flushes and releases resources.
	Close() error
}

// Committer is implemented by sinks whose Write can return before the
// records reach the destination. Committed returns the ID of the last
// envelope that did; empty means none yet. Sinks without it commit on
// every successful Write.
type Committer interface {
	Committed() string
}

var (
	_ Committer = (*File)(nil)
	_ Committer = (*ObjectStore)(nil)
)

// BatchLimits bounds one Write call.
type BatchLimits struct {
	MaxCount int
	MaxBytes int64
	// Linger is how long to wait for a batch to fill after the first
	// envelope is available. Zero writes whatever is ready.
	Linger time.Duration
}

// Batcher is implemented by sinks that want non-default batch limits.
type Batcher interface {
	BatchLimits() BatchLimits
}

// DefaultBatchLimits returns 64 envelopes, 4 MiB, no linger.
func DefaultBatchLimits() BatchLimits {
	return BatchLimits{MaxCount: 64, MaxBytes: 4 << 20}
}

// LimitsOf returns s's batch limits, filling unset fields from fallback.
func LimitsOf(s Sink, fallback BatchLimits) BatchLimits {
	b, ok := s.(Batcher)
	if !ok {
		return fallback
	}
	l := b.BatchLimits()
	if l.MaxCount <= 0 {
		l.MaxCount = fallback.MaxCount
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = fallback.MaxBytes
	}
	if l.Linger <= 0 {
		l.Linger = fallback.Linger
	}
	return l
}

// watermark remembers the last accepted envelope ID.
type watermark struct {
	last string
}

// fresh returns the suffix of batch not yet accepted.
func (w *watermark) fresh(batch []envelope.Envelope) []envelope.Envelope {
	if w.last == "" {
		return batch
	}
	for i, e := range batch {
		if e.ID > w.last {
			return batch[i:]
		}
	}
	return nil
}

func (w *watermark) accept(id string) {
	if id > w.last {
		w.last = id
	}
}
