package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
)

// OverflowPolicy decides what an adapter does when the bus stays full.
type OverflowPolicy int

const (
	// OverflowDrop drops the envelope and records a gap.
	OverflowDrop OverflowPolicy = iota

	// OverflowRetry republishes until the bus accepts or the adapter stops.
	OverflowRetry
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDrop:
		return "drop"
	case OverflowRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy converts "drop" or "retry" to a policy. Empty means drop.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return OverflowDrop, nil
	case "retry":
		return OverflowRetry, nil
	default:
		return OverflowDrop, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Gap reasons.
const (
	GapCaptureDropped  = "capture_dropped"
	GapOverflowDropped = "overflow_dropped"
)

// Gap is a run of sequence numbers that were assigned but never published.
type Gap struct {
	Source envelope.Source
	First  uint64
	Last   uint64
	Reason string
}

// Count returns the number of missing sequence numbers.
func (g Gap) Count() uint64 {
	return g.Last - g.First + 1
}

// Stats summarizes an adapter.
type Stats struct {
	Published uint64
	Dropped   uint64
	LastSeq   uint64
}

// ErrNotOpen is returned by Run before a successful Open.
var ErrNotOpen = errors.New("producer not open")

// Options configures an Adapter.
type Options struct {
	Policy  OverflowPolicy
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
}

// Adapter pumps one Source into a Publisher.
type Adapter struct {
	source  Source
	pub     Publisher
	policy  OverflowPolicy
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	// pubMu is held across each Publish so Pause can wait out one in
	// flight.
	pubMu sync.Mutex

	mu        sync.Mutex
	capture   Capture
	sessionID string
	nextSeq   uint64
	gaps      []Gap
	stats     Stats
	paused    bool
	resume    chan struct{}
}

// NewAdapter creates an adapter publishing src's captures to pub.
func NewAdapter(src Source, pub Publisher, opts Options) *Adapter {
	a := &Adapter{
		source:  src,
		pub:     pub,
		policy:  opts.Policy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		nextSeq: 1,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observability.NoopMetrics{}
	}
	a.logger = a.logger.With(slog.String("source", src.Name()))
	return a
}

// Name returns the source name.
func (a *Adapter) Name() string {
	return a.source.Name()
}

// Kind returns the envelope source class.
func (a *Adapter) Kind() envelope.Source {
	return a.source.Kind()
}

// Open starts the capture. Failures are *errors.SetupError.
func (a *Adapter) Open(ctx context.Context, sessionID string) error {
	capture, err := a.source.Open(ctx, sessionID)
	if err != nil {
		var setupErr *cserrors.SetupError
		if errors.As(err, &setupErr) {
			return err
		}
		return &cserrors.SetupError{Component: "producer " + a.source.Name(), Err: err}
	}

	a.mu.Lock()
	a.capture = capture
	a.sessionID = sessionID
	a.mu.Unlock()
	return nil
}

// Run polls the capture and publishes until ctx is cancelled or the bus
// closes, both of which return nil. A permanent capture failure or a
// rejected envelope is returned.
func (a *Adapter) Run(ctx context.Context) error {
	a.mu.Lock()
	capture, sessionID := a.capture, a.sessionID
	a.mu.Unlock()
	if capture == nil {
		return ErrNotOpen
	}

	for {
		if err := a.waitResumed(ctx); err != nil {
			return nil
		}

		samples, err := capture.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if cserrors.IsRetryable(err) {
				a.recordGap(ctx, a.takeSeq(), GapCaptureDropped)
				continue
			}
			return fmt.Errorf("producer %s: %w", a.source.Name(), err)
		}

		for _, s := range samples {
			seq := a.takeSeq()
			if s.Skipped {
				a.recordGap(ctx, seq, GapCaptureDropped)
				continue
			}

			env := envelope.New(sessionID, a.source.Kind(), seq, s.Payload)
			if s.Size > 0 {
				env.PayloadSize = s.Size
			}
			done, err := a.publish(ctx, env)
			if err != nil {
				return fmt.Errorf("producer %s: %w", a.source.Name(), err)
			}
			if done {
				return nil
			}
		}
	}
}

// publish applies the overflow policy. done reports that the adapter should
// stop because ctx ended or the bus closed.
func (a *Adapter) publish(ctx context.Context, env envelope.Envelope) (done bool, err error) {
	for {
		if err := a.gate(ctx); err != nil {
			return true, nil
		}
		_, err := a.pub.Publish(ctx, env)
		a.pubMu.Unlock()
		switch {
		case err == nil:
			a.mu.Lock()
			a.stats.Published++
			a.stats.LastSeq = env.LogicalSeq
			a.mu.Unlock()
			return false, nil

		case errors.Is(err, bus.ErrClosed), ctx.Err() != nil:
			return true, nil

		case errors.Is(err, bus.ErrOverflow):
			if a.policy == OverflowRetry {
				continue
			}
			observability.LogOverflow(a.logger, string(env.Source), env.LogicalSeq, err)
			a.recordGap(ctx, env.LogicalSeq, GapOverflowDropped)
			return false, nil

		case errors.Is(err, bus.ErrTooLarge):
			a.recordGap(ctx, env.LogicalSeq, GapOverflowDropped)
			a.logger.Warn("envelope larger than bus capacity dropped",
				slog.Uint64("logical_seq", env.LogicalSeq),
				slog.Int64("size_bytes", env.Size()),
			)
			return false, nil

		default:
			return false, err
		}
	}
}

// gate waits while the adapter is paused and returns holding pubMu. A
// sample polled before Pause is held until Resume.
func (a *Adapter) gate(ctx context.Context) error {
	for {
		if err := a.waitResumed(ctx); err != nil {
			return err
		}
		a.pubMu.Lock()
		if !a.Paused() {
			return nil
		}
		a.pubMu.Unlock()
	}
}

func (a *Adapter) takeSeq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq := a.nextSeq
	a.nextSeq++
	return seq
}

// recordGap extends the last gap when seq continues it with the same reason.
func (a *Adapter) recordGap(ctx context.Context, seq uint64, reason string) {
	a.mu.Lock()
	a.stats.Dropped++
	if n := len(a.gaps); n > 0 && a.gaps[n-1].Reason == reason && a.gaps[n-1].Last+1 == seq {
		a.gaps[n-1].Last = seq
	} else {
		a.gaps = append(a.gaps, Gap{Source: a.source.Kind(), First: seq, Last: seq, Reason: reason})
	}
	a.mu.Unlock()

	observability.LogGap(a.logger, string(a.source.Kind()), seq, seq, reason)
	a.metrics.RecordGap(ctx, string(a.source.Kind()), 1, reason)
}

// Pause stops polling and publishing. It waits for a publish already in
// flight; samples polled afterwards are held until Resume. Sequence
// numbering continues where it left off.
func (a *Adapter) Pause() {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return
	}
	a.paused = true
	a.resume = make(chan struct{})
}

// Resume restarts polling after Pause.
func (a *Adapter) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		return
	}
	a.paused = false
	close(a.resume)
}

// Paused reports whether the adapter is paused.
func (a *Adapter) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

func (a *Adapter) waitResumed(ctx context.Context) error {
	a.mu.Lock()
	if !a.paused {
		a.mu.Unlock()
		return ctx.Err()
	}
	ch := a.resume
	a.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the capture.
func (a *Adapter) Close() error {
	a.mu.Lock()
	capture := a.capture
	a.capture = nil
	a.mu.Unlock()

	if capture == nil {
		return nil
	}
	if err := capture.Close(); err != nil {
		return fmt.Errorf("close producer %s: %w", a.source.Name(), err)
	}
	return nil
}

// Gaps returns the recorded gaps in sequence order.
func (a *Adapter) Gaps() []Gap {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Gap, len(a.gaps))
	copy(out, a.gaps)
	return out
}

// Stats returns adapter counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
