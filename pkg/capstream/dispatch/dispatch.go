package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
	"github.com/randalmurphal/capstream/pkg/capstream/registry"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultProbeInterval = time.Second
	DefaultFlushTimeout  = 5 * time.Second
)

// Sentinel errors.
var (
	ErrDuplicateSink = errors.New("sink already attached")
	ErrUnknownSink   = errors.New("sink not attached")
	ErrStopped       = errors.New("dispatcher stopped")
)

// Config configures a Dispatcher.
type Config struct {
	// Retry bounds write attempts before a sink is marked degraded.
	// Defaults to cserrors.DefaultRetry.
	Retry cserrors.RetryConfig

	// ProbeInterval is how often a degraded sink's held batch is retried.
	ProbeInterval time.Duration

	// FlushTimeout bounds the final Flush of each sink.
	FlushTimeout time.Duration

	// Batch fills in limits a sink does not set itself.
	Batch sink.BatchLimits

	// Cursors persists delivery positions. Defaults to a memory store.
	Cursors checkpoint.Store

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Tracer  observability.SpanManager

	// OnHealth receives degraded and recovered events. It runs on the
	// sink's worker goroutine and must not call back into the dispatcher.
	OnHealth func(HealthEvent)

	// OnFatal receives delivery-order violations. The worker that found
	// the violation stops. Like OnHealth it runs on the worker goroutine,
	// so a handler that wants to Abort must do so asynchronously.
	OnFatal func(error)
}

// Dispatcher fans one bus out to many sinks.
type Dispatcher struct {
	cfg     Config
	bus     *bus.Bus
	store   checkpoint.Store
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	tracer  observability.SpanManager

	workers *registry.Registry[string, *worker]

	// opMu serializes attach, detach and shutdown.
	opMu     sync.Mutex
	stopped  bool
	watching bool

	mu      sync.Mutex
	retired map[string]checkpoint.Cursor
	losses  []Loss

	pressure    chan struct{}
	quit        chan struct{}
	quitOnce    sync.Once
	watcherDone chan struct{}
}

// New creates a dispatcher for b. The pressure watcher starts with the
// first Attach.
func New(b *bus.Bus, cfg Config) *Dispatcher {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = cserrors.DefaultRetry
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Batch.MaxCount <= 0 && cfg.Batch.MaxBytes <= 0 {
		cfg.Batch = sink.DefaultBatchLimits()
	}

	d := &Dispatcher{
		cfg:         cfg,
		bus:         b,
		store:       cfg.Cursors,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		workers:     registry.New[string, *worker](),
		retired:     make(map[string]checkpoint.Cursor),
		pressure:    make(chan struct{}, 1),
		quit:        make(chan struct{}),
		watcherDone: make(chan struct{}),
	}
	if d.store == nil {
		d.store = checkpoint.NewMemoryStore()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = observability.NoopMetrics{}
	}
	if d.tracer == nil {
		d.tracer = observability.NoopSpanManager{}
	}
	return d
}

// SessionID returns the session of the underlying bus.
func (d *Dispatcher) SessionID() string {
	return d.bus.SessionID()
}

// Attach starts delivering to s from the oldest retained entry, skipping
// anything its stored cursor already covers.
func (d *Dispatcher) Attach(ctx context.Context, s sink.Sink) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	name := s.Name()
	if d.workers.Has(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateSink, name)
	}

	cursor := checkpoint.Cursor{SessionID: d.SessionID(), Sink: name}
	stored, err := d.store.LoadCursor(d.SessionID(), name)
	switch {
	case err == nil:
		cursor = stored
		cursor.Degraded = false
		cursor.Detached = false
		cursor.Final = false
	case !errors.Is(err, checkpoint.ErrNotFound):
		observability.LogCursorError(d.logger, name, "load", err)
	}

	sub, err := d.bus.Subscribe(name, bus.StartOldest)
	if err != nil {
		if errors.Is(err, bus.ErrSubscribed) {
			return fmt.Errorf("%w: %s", ErrDuplicateSink, name)
		}
		return fmt.Errorf("attach %s: %w", name, err)
	}

	w := newWorker(d, context.WithoutCancel(ctx), s, sub, cursor)
	d.workers.Add(name, w)
	d.saveCursor(cursor)
	if !d.watching {
		d.watching = true
		go d.watchPressure()
	}

	d.logger.Info("sink attached",
		slog.String("sink", name),
		slog.String("resume_after", cursor.LastID),
	)
	go w.run()
	return nil
}

// Detach stops delivering to the named sink and closes it. Entries it had
// not acknowledged are recorded as a loss.
func (d *Dispatcher) Detach(name string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	w, ok := d.workers.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSink, name)
	}
	return d.retireLocked(w, LossDetached, true, false)
}

// retireLocked stops w, records what it leaves behind, then closes its sink.
func (d *Dispatcher) retireLocked(w *worker, reason LossReason, detached, final bool) error {
	d.workers.Delete(w.name)
	w.stop()
	d.recordLoss(w, w.sub.Release(), reason)

	err := w.closeSink(d.cfg.FlushTimeout)
	w.advance()
	d.recordLoss(w, w.takeUncommitted(), LossUnflushed)
	c := w.finalCursor(detached, final)
	d.saveCursor(c)

	d.mu.Lock()
	d.retired[w.name] = c
	d.mu.Unlock()
	return err
}

// NotifyPressure tells the dispatcher a publisher is blocked. It never
// blocks; it is meant to be wired to bus.Config.OnPressure.
func (d *Dispatcher) NotifyPressure() {
	select {
	case d.pressure <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) watchPressure() {
	defer close(d.watcherDone)
	for {
		select {
		case <-d.quit:
			return
		case <-d.pressure:
			d.relievePressure()
		}
	}
}

// relievePressure detaches degraded sinks that hold retained entries.
func (d *Dispatcher) relievePressure() {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if d.stopped {
		return
	}
	for _, w := range d.workers.Values() {
		if !w.holding() {
			continue
		}
		d.logger.Warn("detaching degraded sink under backpressure", slog.String("sink", w.name))
		if err := d.retireLocked(w, LossDegradedDetached, true, false); err != nil {
			d.logger.Warn("close detached sink", slog.String("sink", w.name), slog.String("error", err.Error()))
		}
	}
}

// stopWatcher must be called after stopped is set, so no Attach can start
// the watcher concurrently.
func (d *Dispatcher) stopWatcher() {
	d.quitOnce.Do(func() { close(d.quit) })
	d.opMu.Lock()
	watching := d.watching
	d.opMu.Unlock()
	if watching {
		<-d.watcherDone
	}
}

// Drain closes the bus and waits up to timeout for every sink to receive
// the remaining entries. Sinks still behind at the deadline are cut off
// and their remainder recorded as drain_timeout losses. All sinks are then
// flushed and closed and their cursors marked final.
//
// The returned error joins a *cserrors.TimeoutError (if any sink was cut
// off) with flush and close failures.
func (d *Dispatcher) Drain(ctx context.Context, timeout time.Duration) error {
	d.opMu.Lock()
	if d.stopped {
		d.opMu.Unlock()
		return ErrStopped
	}
	d.stopped = true
	d.bus.Close()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		errs      []error
		truncated []string
	)
	for _, w := range d.workers.Values() {
		reason := LossAborted
		if !w.wait(waitCtx) {
			reason = LossDrainTimeout
			left := w.sub.Backlog()
			truncated = append(truncated, w.name)
			observability.LogTruncation(d.logger, "sink "+w.name, timeout,
				fmt.Sprintf("%d envelopes undelivered", left.Count))
		}
		if err := d.retireLocked(w, reason, false, true); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", w.name, err))
		}
	}
	d.opMu.Unlock()
	d.stopWatcher()

	if len(truncated) > 0 {
		errs = append([]error{&cserrors.TimeoutError{
			Operation: "drain sinks " + strings.Join(truncated, ","),
			Duration:  timeout,
		}}, errs...)
	}
	return errors.Join(errs...)
}

// Abort cancels every worker without waiting for delivery. Unacknowledged
// entries are recorded as aborted losses; sinks are flushed and closed so
// what they accepted stays valid.
func (d *Dispatcher) Abort() {
	d.opMu.Lock()
	if d.stopped {
		d.opMu.Unlock()
		return
	}
	d.stopped = true
	for _, w := range d.workers.Values() {
		if err := d.retireLocked(w, LossAborted, false, false); err != nil {
			d.logger.Warn("close aborted sink", slog.String("sink", w.name), slog.String("error", err.Error()))
		}
	}
	d.opMu.Unlock()
	d.stopWatcher()
}

func (d *Dispatcher) recordLoss(w *worker, left bus.Backlog, reason LossReason) {
	if left.Count == 0 {
		return
	}
	loss := Loss{
		Sink:        w.name,
		FirstOffset: left.FirstOffset,
		LastOffset:  left.LastOffset,
		FirstID:     left.FirstID,
		LastID:      left.LastID,
		Count:       left.Count,
		Bytes:       left.Bytes,
		Reason:      reason,
		At:          time.Now(),
	}
	d.mu.Lock()
	d.losses = append(d.losses, loss)
	d.mu.Unlock()

	w.addLost(left.Count)
	observability.LogLoss(d.logger, w.name, left.FirstOffset, left.LastOffset, left.Count, string(reason))
}

func (d *Dispatcher) saveCursor(c checkpoint.Cursor) {
	if err := d.store.SaveCursor(c); err != nil {
		observability.LogCursorError(d.logger, c.Sink, "save", err)
	}
}

func (d *Dispatcher) fatal(err error) {
	d.logger.Error("delivery order violated", slog.String("error", err.Error()))
	if d.cfg.OnFatal != nil {
		d.cfg.OnFatal(err)
	}
}

func (d *Dispatcher) emitHealth(ev HealthEvent) {
	if d.cfg.OnHealth != nil {
		d.cfg.OnHealth(ev)
	}
}

// Sinks returns the names of attached sinks.
func (d *Dispatcher) Sinks() []string {
	return d.workers.Keys()
}

// Health returns the health of each attached sink: degraded when delivery
// failed or the sink last reported itself degraded.
func (d *Dispatcher) Health() map[string]sink.Health {
	out := make(map[string]sink.Health, d.workers.Len())
	d.workers.Range(func(name string, w *worker) bool {
		out[name] = w.health()
		return true
	})
	return out
}

// CheckHealth asks every attached sink for its health and returns it
// combined with delivery state, as Health does afterwards.
func (d *Dispatcher) CheckHealth(ctx context.Context) map[string]sink.Health {
	out := make(map[string]sink.Health, d.workers.Len())
	for _, w := range d.workers.Values() {
		w.checkHealth(ctx)
		out[w.name] = w.health()
	}
	return out
}

// Cursors returns the cursor of every sink ever attached, ordered by name.
func (d *Dispatcher) Cursors() []checkpoint.Cursor {
	byName := make(map[string]checkpoint.Cursor)
	d.mu.Lock()
	for name, c := range d.retired {
		byName[name] = c
	}
	d.mu.Unlock()
	d.workers.Range(func(name string, w *worker) bool {
		byName[name] = w.snapshot()
		return true
	})

	out := make([]checkpoint.Cursor, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b checkpoint.Cursor) int { return strings.Compare(a.Sink, b.Sink) })
	return out
}

// Losses returns every recorded loss in the order it happened.
func (d *Dispatcher) Losses() []Loss {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.losses)
}
