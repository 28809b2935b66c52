package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/capstream/pkg/capstream/clock"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
	"github.com/randalmurphal/capstream/pkg/capstream/observability"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxEnvelopes   = 1024
	DefaultMaxBytes       = 64 << 20
	DefaultPublishTimeout = time.Second
)

// Sentinel errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrOverflow       = errors.New("bus overflow")
	ErrTooLarge       = errors.New("envelope exceeds bus byte capacity")
	ErrSubscribed     = errors.New("subscriber already exists")
	ErrUnsubscribed   = errors.New("subscription released")
	ErrAckUndelivered = errors.New("ack beyond fetched offset")
)

// Config configures a Bus.
type Config struct {
	// SessionID is stamped into errors and checked against every envelope.
	SessionID string

	// MaxEnvelopes bounds the number of retained entries.
	MaxEnvelopes int

	// MaxBytes bounds the sum of retained envelope sizes.
	MaxBytes int64

	// PublishTimeout bounds how long Publish waits for room.
	PublishTimeout time.Duration

	// Clock stamps CapturedAt. Defaults to clock.Default().
	Clock clock.Source

	// OnPressure is called, outside the bus lock, once per publish that
	// has to wait for room.
	OnPressure func()

	Metrics observability.MetricsRecorder
	Logger  *slog.Logger
}

// Entry is an admitted envelope and its position in the bus.
type Entry struct {
	Offset   uint64
	Envelope envelope.Envelope
}

// Limits bounds a single Fetch. Zero fields mean unlimited. At least one
// entry is always returned, even if it alone exceeds MaxBytes.
type Limits struct {
	MaxCount int
	MaxBytes int64
}

// Bus is a bounded, totally ordered queue for one session.
type Bus struct {
	cfg     Config
	clock   clock.Source
	metrics observability.MetricsRecorder
	logger  *slog.Logger

	mu       sync.Mutex
	entries  []Entry
	base     uint64 // offset of entries[0]
	head     uint64 // offset the next admitted entry receives
	bytes    int64
	admitted uint64
	lastSeq  map[envelope.Source]uint64
	lastID   string
	lastAt   clock.Timestamp
	subs     map[string]*Subscription
	closed   bool

	// Replaced on every broadcast; waiters select on the old channel.
	dataCh  chan struct{}
	spaceCh chan struct{}
}

// New creates a bus.
func New(cfg Config) *Bus {
	if cfg.MaxEnvelopes <= 0 {
		cfg.MaxEnvelopes = DefaultMaxEnvelopes
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}

	b := &Bus{
		cfg:     cfg,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		base:    1,
		head:    1,
		lastSeq: make(map[envelope.Source]uint64),
		subs:    make(map[string]*Subscription),
		dataCh:  make(chan struct{}),
		spaceCh: make(chan struct{}),
	}
	if b.clock == nil {
		b.clock = clock.Default()
	}
	if b.metrics == nil {
		b.metrics = observability.NoopMetrics{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// SessionID returns the owning session.
func (b *Bus) SessionID() string {
	return b.cfg.SessionID
}

// Publish admits env, stamping its ID and CapturedAt. It waits up to
// PublishTimeout for room; on timeout it returns an *errors.OverflowError
// wrapping ErrOverflow. Ordering violations are *errors.InvariantError.
func (b *Bus) Publish(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error) {
	if err := env.Validate(); err != nil {
		return envelope.Envelope{}, err
	}
	if b.cfg.SessionID != "" && env.SessionID != b.cfg.SessionID {
		return envelope.Envelope{}, &cserrors.InvariantError{
			SessionID: b.cfg.SessionID,
			Invariant: "session",
			Detail:    fmt.Sprintf("envelope belongs to session %s", env.SessionID),
		}
	}

	size := env.Size()
	if size > b.cfg.MaxBytes {
		return envelope.Envelope{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, b.cfg.MaxBytes)
	}

	var (
		timer    *time.Timer
		start    time.Time
		pressure bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return envelope.Envelope{}, ErrClosed
		}
		if last := b.lastSeq[env.Source]; env.LogicalSeq <= last {
			b.mu.Unlock()
			return envelope.Envelope{}, &cserrors.InvariantError{
				SessionID: b.cfg.SessionID,
				Invariant: "logical_seq",
				Detail:    fmt.Sprintf("%s seq %d not after %d", env.Source, env.LogicalSeq, last),
			}
		}
		if b.fits(size) {
			admitted, err := b.admitLocked(env, size)
			b.mu.Unlock()
			if err == nil {
				b.metrics.RecordPublish(ctx, string(env.Source), size)
			}
			return admitted, err
		}
		space := b.spaceCh
		retained, retainedBytes := len(b.entries), b.bytes
		b.mu.Unlock()

		if timer == nil {
			start = time.Now()
			timer = time.NewTimer(b.cfg.PublishTimeout)
		}
		if !pressure {
			pressure = true
			if b.cfg.OnPressure != nil {
				b.cfg.OnPressure()
			}
		}

		select {
		case <-space:
		case <-ctx.Done():
			return envelope.Envelope{}, ctx.Err()
		case <-timer.C:
			b.metrics.RecordOverflow(ctx, string(env.Source))
			return envelope.Envelope{}, &cserrors.OverflowError{
				SessionID: b.cfg.SessionID,
				Source:    string(env.Source),
				Waited:    time.Since(start),
				Retained:  retained,
				Bytes:     retainedBytes,
				Err:       ErrOverflow,
			}
		}
	}
}

func (b *Bus) fits(size int64) bool {
	if len(b.entries) >= b.cfg.MaxEnvelopes {
		return false
	}
	return len(b.entries) == 0 || b.bytes+size <= b.cfg.MaxBytes
}

func (b *Bus) admitLocked(env envelope.Envelope, size int64) (envelope.Envelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("generate envelope id: %w", err)
	}
	env.ID = id.String()
	env.CapturedAt = b.clock.Now()
	env.PayloadSize = size

	if env.ID <= b.lastID {
		return envelope.Envelope{}, &cserrors.InvariantError{
			SessionID: b.cfg.SessionID,
			Invariant: "id_order",
			Detail:    fmt.Sprintf("id %s not after %s", env.ID, b.lastID),
		}
	}
	if env.CapturedAt < b.lastAt {
		return envelope.Envelope{}, &cserrors.InvariantError{
			SessionID: b.cfg.SessionID,
			Invariant: "captured_at",
			Detail:    fmt.Sprintf("timestamp %d before %d", env.CapturedAt, b.lastAt),
		}
	}

	b.entries = append(b.entries, Entry{Offset: b.head, Envelope: env})
	b.head++
	b.bytes += size
	b.admitted++
	b.lastSeq[env.Source] = env.LogicalSeq
	b.lastID = env.ID
	b.lastAt = env.CapturedAt
	b.broadcastData()
	return env, nil
}

// Subscribe registers a named cursor. StartOldest begins at the oldest
// retained entry, StartNext at the next one to be admitted.
func (b *Bus) Subscribe(name string, start StartPosition) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscribed, name)
	}

	pos := b.base
	if start == StartNext {
		pos = b.head
	}
	sub := &Subscription{bus: b, name: name, next: pos, acked: pos}
	b.subs[name] = sub
	return sub, nil
}

// Close stops admission. Blocked publishers fail with ErrClosed; subscribers
// drain what is retained and then receive ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.broadcastData()
	b.broadcastSpace()
	b.logger.Debug("bus closed",
		slog.String("session_id", b.cfg.SessionID),
		slog.Uint64("admitted", b.admitted),
		slog.Int("retained", len(b.entries)),
	)
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// trimLocked drops entries below floor that every subscriber has
// acknowledged.
func (b *Bus) trimLocked(floor uint64) {
	for _, sub := range b.subs {
		floor = min(floor, sub.acked)
	}
	n := int(floor - b.base)
	if n <= 0 {
		return
	}
	n = min(n, len(b.entries))

	var released int64
	for _, e := range b.entries[:n] {
		released += e.Envelope.Size()
	}
	b.entries = slices.Delete(b.entries, 0, n)
	b.base += uint64(n)
	b.bytes -= released
	b.metrics.RecordTrim(context.Background(), released)
	b.broadcastSpace()
}

func (b *Bus) broadcastData() {
	close(b.dataCh)
	b.dataCh = make(chan struct{})
}

func (b *Bus) broadcastSpace() {
	close(b.spaceCh)
	b.spaceCh = make(chan struct{})
}

// Stats is a point-in-time view of a bus.
type Stats struct {
	Retained    int
	Bytes       int64
	Base        uint64
	Head        uint64
	Admitted    uint64
	Closed      bool
	Subscribers map[string]Position
}

// Position is a subscriber's cursor: Next is the next offset Fetch
// returns, Acked the first offset not yet acknowledged.
type Position struct {
	Next  uint64
	Acked uint64
}

// Stats returns a snapshot of the bus.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Retained:    len(b.entries),
		Bytes:       b.bytes,
		Base:        b.base,
		Head:        b.head,
		Admitted:    b.admitted,
		Closed:      b.closed,
		Subscribers: make(map[string]Position, len(b.subs)),
	}
	for name, sub := range b.subs {
		s.Subscribers[name] = Position{Next: sub.next, Acked: sub.acked}
	}
	return s
}
