package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/checkpoint"
	"github.com/randalmurphal/capstream/pkg/capstream/dispatch"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
	"github.com/randalmurphal/capstream/pkg/capstream/producer"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

// DefaultDrainTimeout bounds each shutdown wait when Config leaves it zero.
const DefaultDrainTimeout = 10 * time.Second

// Config describes one session.
type Config struct {
	// Name defaults to the UTC creation time, e.g. 20250102T150405Z.
	Name string

	Producers []producer.Source

	// Sinks are attached as given. BuildSinks, when set, is called at
	// Start with the session ID and its sinks are attached too.
	Sinks      []sink.Sink
	BuildSinks func(ctx context.Context, sessionID string) ([]sink.Sink, error)

	// Bus and Dispatch are used as templates; session wiring (ID,
	// pressure and health hooks, cursor store, logging) is filled in.
	Bus      bus.Config
	Dispatch dispatch.Config

	OverflowPolicy producer.OverflowPolicy

	// DrainTimeout bounds stopping the producers and, separately,
	// draining the sinks.
	DrainTimeout time.Duration

	// OnHealth receives sink health changes. It must not block.
	OnHealth func(dispatch.HealthEvent)
}

// Session is one recording.
type Session struct {
	id        string
	name      string
	createdAt time.Time
	cfg       Config
	store     checkpoint.Store
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	tracer    observability.SpanManager

	bus  *bus.Bus
	disp *dispatch.Dispatcher

	// lifeMu serializes lifecycle operations.
	lifeMu    sync.Mutex
	adapters  []*producer.Adapter
	runCancel context.CancelFunc
	runDone   chan struct{}

	mu       sync.Mutex
	state    State
	closedAt *time.Time
	err      error
	done     chan struct{}

	// onClosed runs once the session reaches a terminal state.
	onClosed func(*Session)
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Record returns the persisted form of the session.
func (s *Session) Record() checkpoint.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() checkpoint.SessionRecord {
	r := checkpoint.SessionRecord{
		ID:        s.id,
		Name:      s.name,
		State:     string(s.state),
		CreatedAt: s.createdAt,
		ClosedAt:  s.closedAt,
	}
	if s.err != nil {
		r.Error = s.err.Error()
	}
	return r
}

// transition moves to to, persisting and logging the change.
func (s *Session) transition(ctx context.Context, to State, cause error) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return &StateError{SessionID: s.id, From: from, To: to}
	}
	s.state = to
	if cause != nil {
		s.err = cause
	}
	if to.Terminal() {
		now := time.Now().UTC()
		s.closedAt = &now
		close(s.done)
	}
	rec := s.recordLocked()
	s.mu.Unlock()

	if err := s.store.SaveSession(rec); err != nil {
		s.logger.Warn("save session record", slog.String("error", err.Error()))
	}
	observability.LogSessionState(s.logger, s.id, string(from), string(to))
	s.metrics.RecordTransition(ctx, string(from), string(to))
	if to.Terminal() && s.onClosed != nil {
		s.onClosed(s)
	}
	return nil
}

func (s *Session) stateError(to State) error {
	return &StateError{SessionID: s.id, From: s.State(), To: to}
}

// Start opens every capture, attaches the sinks and starts the producers.
// A capture or sink that cannot be set up fails the session; captures
// already opened are closed again.
func (s *Session) Start(ctx context.Context) (err error) {
	ctx, span := s.tracer.StartSessionSpan(ctx, "start", s.id)
	defer func() { s.tracer.EndSpanWithError(span, err) }()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.State() != StateCreated {
		return s.stateError(StateActive)
	}

	adapters := make([]*producer.Adapter, 0, len(s.cfg.Producers))
	for _, src := range s.cfg.Producers {
		a := producer.NewAdapter(src, s.bus, producer.Options{
			Policy:  s.cfg.OverflowPolicy,
			Logger:  s.logger,
			Metrics: s.metrics,
		})
		if err := a.Open(ctx, s.id); err != nil {
			closeSinks(s.cfg.Sinks)
			closeAdapters(adapters, s.logger)
			return s.failSetup(ctx, err)
		}
		adapters = append(adapters, a)
	}

	sinks := s.cfg.Sinks
	if s.cfg.BuildSinks != nil {
		built, err := s.cfg.BuildSinks(ctx, s.id)
		if err != nil {
			closeSinks(sinks)
			closeAdapters(adapters, s.logger)
			return s.failSetup(ctx, err)
		}
		sinks = append(append([]sink.Sink(nil), sinks...), built...)
	}
	for i, sk := range sinks {
		if err := s.disp.Attach(ctx, sk); err != nil {
			closeSinks(sinks[i:])
			closeAdapters(adapters, s.logger)
			return s.failSetup(ctx, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	for _, a := range adapters {
		g.Go(func() error { return a.Run(gctx) })
	}
	s.adapters = adapters
	s.runCancel = cancel
	s.runDone = make(chan struct{})
	go func() {
		err := g.Wait()
		close(s.runDone)
		if err != nil {
			s.fail(err)
		}
	}()

	return s.transition(ctx, StateActive, nil)
}

func (s *Session) failSetup(ctx context.Context, err error) error {
	s.bus.Close()
	s.disp.Abort()
	if terr := s.transition(ctx, StateFailed, err); terr != nil {
		return errors.Join(err, terr)
	}
	return fmt.Errorf("start session %s: %w", s.id, err)
}

// closeSinks closes sinks that were never attached. Attached sinks are
// closed by the dispatcher.
func closeSinks(sinks []sink.Sink) {
	for _, sk := range sinks {
		_ = sk.Close()
	}
}

func closeAdapters(adapters []*producer.Adapter, logger *slog.Logger) {
	for _, a := range adapters {
		if err := a.Close(); err != nil {
			logger.Warn("close producer", slog.String("producer", a.Name()), slog.String("error", err.Error()))
		}
	}
}

// Pause stops polling every producer. Sequence numbers continue on Resume.
func (s *Session) Pause() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.State() != StateActive {
		return s.stateError(StatePaused)
	}
	for _, a := range s.adapters {
		a.Pause()
	}
	return s.transition(context.Background(), StatePaused, nil)
}

// Resume restarts paused producers.
func (s *Session) Resume() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.State() != StatePaused {
		return s.stateError(StateActive)
	}
	for _, a := range s.adapters {
		a.Resume()
	}
	return s.transition(context.Background(), StateActive, nil)
}

// Stop shuts the session down in order: producers, bus, then sinks. Each
// wait is bounded by the drain timeout; work abandoned at a deadline is
// logged as a truncation and, for sinks, recorded as a loss.
func (s *Session) Stop(ctx context.Context) (err error) {
	ctx, span := s.tracer.StartSessionSpan(ctx, "stop", s.id)
	defer func() { s.tracer.EndSpanWithError(span, err) }()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if st := s.State(); st != StateActive && st != StatePaused {
		return s.stateError(StateStopping)
	}
	if err := s.transition(ctx, StateStopping, nil); err != nil {
		return err
	}

	s.stopProducers()
	if derr := s.disp.Drain(ctx, s.cfg.DrainTimeout); derr != nil {
		s.logger.Warn("drain incomplete", slog.String("error", derr.Error()))
	}
	return s.transition(ctx, StateStopped, nil)
}

// stopProducers cancels the adapters, waits up to the drain timeout for
// them to return, closes their captures and closes the bus.
func (s *Session) stopProducers() {
	s.runCancel()
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-s.runDone:
	case <-timer.C:
		observability.LogTruncation(s.logger, "producers", s.cfg.DrainTimeout, "producers still running")
	}
	closeAdapters(s.adapters, s.logger)
	s.bus.Close()
}

// fail moves an active or paused session to failed. It is a no-op in any
// other state.
func (s *Session) fail(cause error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if st := s.State(); st != StateActive && st != StatePaused {
		s.logger.Warn("error after shutdown began", slog.String("state", string(st)), slog.String("error", cause.Error()))
		return
	}
	s.logger.Error("session failed", slog.String("error", cause.Error()))
	s.stopProducers()
	s.disp.Abort()
	if err := s.transition(context.Background(), StateFailed, cause); err != nil {
		s.logger.Warn("record failure", slog.String("error", err.Error()))
	}
}

// Cursors returns the delivery cursor of every sink.
func (s *Session) Cursors() []checkpoint.Cursor {
	return s.disp.Cursors()
}

// Losses returns every recorded sink loss.
func (s *Session) Losses() []dispatch.Loss {
	return s.disp.Losses()
}

// Health returns the last known health of each attached sink.
func (s *Session) Health() map[string]sink.Health {
	return s.disp.Health()
}

// CheckHealth probes every attached sink and returns the result.
func (s *Session) CheckHealth(ctx context.Context) map[string]sink.Health {
	return s.disp.CheckHealth(ctx)
}

// Gaps returns the gaps recorded by every producer.
func (s *Session) Gaps() []producer.Gap {
	s.lifeMu.Lock()
	adapters := s.adapters
	s.lifeMu.Unlock()

	var out []producer.Gap
	for _, a := range adapters {
		out = append(out, a.Gaps()...)
	}
	return out
}

// ProducerStats returns counters per producer name.
func (s *Session) ProducerStats() map[string]producer.Stats {
	s.lifeMu.Lock()
	adapters := s.adapters
	s.lifeMu.Unlock()

	out := make(map[string]producer.Stats, len(adapters))
	for _, a := range adapters {
		out[a.Name()] = a.Stats()
	}
	return out
}

// BusStats returns a snapshot of the session bus.
func (s *Session) BusStats() bus.Stats {
	return s.bus.Stats()
}
