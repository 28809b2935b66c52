package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
	"github.com/randalmurphal/capstream/pkg/capstream/clock"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

// worker delivers one subscription to one sink.
type worker struct {
	d      *Dispatcher
	name   string
	sink   sink.Sink
	sub    *bus.Subscription
	limits sink.BatchLimits
	retry  cserrors.RetryConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the run goroutine.
	resumeAfter string
	lastAt      clock.Timestamp
	lastSeq     map[envelope.Source]uint64

	mu            sync.Mutex
	cursor        checkpoint.Cursor
	uncommitted   []written
	degraded      bool
	degradedSince time.Time
	reported      sink.Health
}

// written is an envelope the sink accepted but has not yet committed.
type written struct {
	id     string
	offset uint64
	size   int64
}

func newWorker(d *Dispatcher, parent context.Context, s sink.Sink, sub *bus.Subscription, cursor checkpoint.Cursor) *worker {
	ctx, cancel := context.WithCancel(parent)
	w := &worker{
		d:           d,
		name:        s.Name(),
		sink:        s,
		sub:         sub,
		limits:      sink.LimitsOf(s, d.cfg.Batch),
		logger:      d.logger.With(slog.String("sink", s.Name())),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		resumeAfter: cursor.LastID,
		lastSeq:     make(map[envelope.Source]uint64),
		cursor:      cursor,
		reported:    sink.HealthOK,
	}

	// Sinks only mark errors they know cannot succeed as permanent.
	w.retry = d.cfg.Retry.With(
		cserrors.WithRetryableFunc(func(err error) bool {
			return !cserrors.IsExplicitlyPermanent(err)
		}),
		cserrors.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			d.metrics.RecordSinkRetry(w.ctx, w.name)
			w.logger.Debug("sink write failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}),
	)
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for {
		entries, err := w.fetch()
		if err != nil {
			if !errors.Is(err, bus.ErrClosed) && w.ctx.Err() == nil {
				w.logger.Warn("fetch failed", slog.String("error", err.Error()))
			}
			return
		}
		if !w.deliver(entries) {
			return
		}
	}
}

// fetch returns the next batch, lingering for more entries if configured.
func (w *worker) fetch() ([]bus.Entry, error) {
	limits := bus.Limits{MaxCount: w.limits.MaxCount, MaxBytes: w.limits.MaxBytes}
	entries, err := w.sub.Fetch(w.ctx, limits)
	if err != nil || w.limits.Linger <= 0 {
		return entries, err
	}

	lctx, cancel := context.WithTimeout(w.ctx, w.limits.Linger)
	defer cancel()
	for {
		var size int64
		for _, e := range entries {
			size += e.Envelope.Size()
		}
		rest := limits
		if rest.MaxCount > 0 {
			rest.MaxCount -= len(entries)
			if rest.MaxCount <= 0 {
				return entries, nil
			}
		}
		if rest.MaxBytes > 0 {
			rest.MaxBytes -= size
			if rest.MaxBytes <= 0 {
				return entries, nil
			}
		}
		more, err := w.sub.Fetch(lctx, rest)
		if err != nil {
			return entries, nil
		}
		entries = append(entries, more...)
	}
}

// deliver writes one batch and acknowledges it. It returns false when the
// worker must stop.
func (w *worker) deliver(entries []bus.Entry) bool {
	last := entries[len(entries)-1].Offset

	batch := make([]envelope.Envelope, 0, len(entries))
	offsets := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if w.resumeAfter != "" {
			if e.Envelope.ID <= w.resumeAfter {
				continue
			}
			w.resumeAfter = ""
		}
		batch = append(batch, e.Envelope)
		offsets = append(offsets, e.Offset)
	}
	if len(batch) == 0 {
		w.ack(last)
		return true
	}

	if err := w.checkOrder(batch); err != nil {
		w.d.fatal(err)
		return false
	}
	if !w.write(batch) {
		return false
	}

	w.ack(last)
	w.mu.Lock()
	for i, e := range batch {
		w.uncommitted = append(w.uncommitted, written{id: e.ID, offset: offsets[i], size: e.Size()})
	}
	w.mu.Unlock()
	w.advance()
	return true
}

// advance moves the cursor over written envelopes the sink reports as
// committed and saves it. The cursor never runs ahead of the sink.
func (w *worker) advance() {
	committer, buffered := w.sink.(sink.Committer)
	var committed string
	if buffered {
		committed = committer.Committed()
	}

	w.mu.Lock()
	n := 0
	for _, r := range w.uncommitted {
		if buffered && r.id > committed {
			break
		}
		n++
	}
	if n == 0 {
		w.mu.Unlock()
		return
	}
	last := w.uncommitted[n-1]
	w.cursor.LastID = last.id
	w.cursor.LastOffset = last.offset
	w.cursor.Delivered += uint64(n)
	w.cursor.Degraded = w.degraded
	w.uncommitted = append(w.uncommitted[:0], w.uncommitted[n:]...)
	c := w.cursor
	w.mu.Unlock()
	w.d.saveCursor(c)
}

// takeUncommitted returns what the sink accepted but never committed as a
// backlog and forgets it.
func (w *worker) takeUncommitted() bus.Backlog {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.uncommitted) == 0 {
		return bus.Backlog{}
	}
	first, last := w.uncommitted[0], w.uncommitted[len(w.uncommitted)-1]
	left := bus.Backlog{
		FirstOffset: first.offset,
		LastOffset:  last.offset,
		FirstID:     first.id,
		LastID:      last.id,
		Count:       len(w.uncommitted),
	}
	for _, r := range w.uncommitted {
		left.Bytes += r.size
	}
	w.uncommitted = nil
	return left
}

func (w *worker) ack(offset uint64) {
	if err := w.sub.Ack(offset); err != nil && w.ctx.Err() == nil {
		w.logger.Warn("ack failed", slog.Uint64("offset", offset), slog.String("error", err.Error()))
	}
}

// checkOrder verifies the batch continues the order already delivered:
// CapturedAt never decreases and each source's LogicalSeq strictly
// increases.
func (w *worker) checkOrder(batch []envelope.Envelope) error {
	for _, e := range batch {
		if e.CapturedAt < w.lastAt {
			return &cserrors.InvariantError{
				SessionID: e.SessionID,
				Invariant: "captured_at",
				Detail:    fmt.Sprintf("sink %s: %s at %s before %s", w.name, e.ID, e.CapturedAt, w.lastAt),
			}
		}
		if prev := w.lastSeq[e.Source]; e.LogicalSeq <= prev {
			return &cserrors.InvariantError{
				SessionID: e.SessionID,
				Invariant: "logical_seq",
				Detail:    fmt.Sprintf("sink %s: %s seq %d not after %d", w.name, e.Source, e.LogicalSeq, prev),
			}
		}
		w.lastAt = e.CapturedAt
		w.lastSeq[e.Source] = e.LogicalSeq
	}
	return nil
}

// write delivers batch with retries. Once retries are exhausted the sink
// is degraded: every probe interval its HealthCheck is consulted and the
// held batch is re-attempted only when the sink reports ok, until a write
// succeeds or the worker is cancelled.
func (w *worker) write(batch []envelope.Envelope) bool {
	res := cserrors.WithRetryContext(w.ctx, w.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.attempt(ctx, batch)
	})
	if res.Err == nil {
		return true
	}
	if w.ctx.Err() != nil {
		return false
	}

	w.markDegraded(res.Attempts, res.Err)
	ticker := time.NewTicker(w.d.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return false
		case <-ticker.C:
		}
		if w.checkHealth(w.ctx) != sink.HealthOK {
			w.logger.Debug("sink reports degraded, holding batch")
			continue
		}
		if err := w.attempt(w.ctx, batch); err != nil {
			if w.ctx.Err() != nil {
				return false
			}
			w.logger.Debug("probe failed", slog.String("error", err.Error()))
			continue
		}
		w.markRecovered()
		return true
	}
}

// checkHealth asks the sink for its own view and remembers it.
func (w *worker) checkHealth(ctx context.Context) sink.Health {
	h := w.sink.HealthCheck(ctx)
	w.mu.Lock()
	w.reported = h
	w.mu.Unlock()
	return h
}

func (w *worker) attempt(ctx context.Context, batch []envelope.Envelope) error {
	ctx, span := w.d.tracer.StartSinkWriteSpan(ctx, w.name, len(batch))
	elapsed := observability.TimedOperation()
	err := w.sink.Write(ctx, batch)
	w.d.metrics.RecordSinkWrite(ctx, w.name, len(batch), elapsed(), err)
	w.d.tracer.EndSpanWithError(span, err)
	return err
}

func (w *worker) markDegraded(attempts int, err error) {
	now := time.Now()
	w.mu.Lock()
	w.degraded = true
	w.degradedSince = now
	w.cursor.Degraded = true
	c := w.cursor
	w.mu.Unlock()

	w.d.saveCursor(c)
	w.d.metrics.RecordSinkDegraded(w.ctx, w.name)
	observability.LogSinkDegraded(w.d.logger, w.name, attempts, err)
	w.d.emitHealth(HealthEvent{Sink: w.name, Health: sink.HealthDegraded, Err: err, Attempts: attempts, At: now})
}

func (w *worker) markRecovered() {
	now := time.Now()
	w.mu.Lock()
	w.degraded = false
	downtime := now.Sub(w.degradedSince)
	w.mu.Unlock()

	observability.LogSinkRecovered(w.d.logger, w.name, downtime)
	w.d.emitHealth(HealthEvent{Sink: w.name, Health: sink.HealthOK, At: now})
}

// holding reports whether the sink is degraded and pinning bus entries.
func (w *worker) holding() bool {
	w.mu.Lock()
	degraded := w.degraded
	w.mu.Unlock()
	return degraded && w.sub.Backlog().Count > 0
}

// health combines delivery state with the sink's last self-report.
func (w *worker) health() sink.Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.degraded || w.reported == sink.HealthDegraded {
		return sink.HealthDegraded
	}
	return sink.HealthOK
}

func (w *worker) snapshot() checkpoint.Cursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

func (w *worker) addLost(n int) {
	w.mu.Lock()
	w.cursor.Lost += uint64(n)
	w.mu.Unlock()
}

// wait blocks until the worker exits or ctx ends, preferring exit.
func (w *worker) wait(ctx context.Context) bool {
	select {
	case <-w.done:
		return true
	default:
	}
	select {
	case <-w.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *worker) stop() {
	w.cancel()
	<-w.done
}

// closeSink flushes and closes the sink. Must be called after stop.
func (w *worker) closeSink(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(w.sink.Flush(ctx), w.sink.Close())
}

func (w *worker) finalCursor(detached, final bool) checkpoint.Cursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursor.Degraded = w.degraded
	w.cursor.Detached = detached
	w.cursor.Final = final
	return w.cursor
}
