package sink

import (
	"context"
	"slices"
	"sync"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

// Memory keeps delivered envelopes in process. Fail, if set, is consulted
// before every write and a non-nil result is returned instead of storing.
type Memory struct {
	name   string
	limits BatchLimits

	mu     sync.Mutex
	mark   watermark
	events []envelope.Envelope
	writes int
	fails  int
	health Health
	closed bool

	// Fail decides whether the n-th write call (starting at 1) fails.
	Fail func(n int, batch []envelope.Envelope) error
}

// NewMemory creates an empty in-memory sink.
func NewMemory(name string) *Memory {
	return &Memory{name: name}
}

// WithLimits sets the batch limits the sink reports.
func (m *Memory) WithLimits(l BatchLimits) *Memory {
	m.limits = l
	return m
}

// Name implements Sink.
func (m *Memory) Name() string { return m.name }

// BatchLimits implements Batcher.
func (m *Memory) BatchLimits() BatchLimits { return m.limits }

// Write implements Sink.
func (m *Memory) Write(_ context.Context, batch []envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.writes++
	if m.Fail != nil {
		if err := m.Fail(m.writes, batch); err != nil {
			m.fails++
			return err
		}
	}
	for _, e := range m.mark.fresh(batch) {
		m.events = append(m.events, e)
		m.mark.accept(e.ID)
	}
	return nil
}

// Flush implements Sink.
func (m *Memory) Flush(context.Context) error { return nil }

// HealthCheck implements Sink.
func (m *Memory) HealthCheck(context.Context) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.health == HealthDegraded {
		return HealthDegraded
	}
	return HealthOK
}

// SetHealth sets what HealthCheck reports while the sink is open.
func (m *Memory) SetHealth(h Health) {
	m.mu.Lock()
	m.health = h
	m.mu.Unlock()
}

// Close implements Sink.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything stored so far.
func (m *Memory) Events() []envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Writes returns the number of Write calls and how many of them failed.
func (m *Memory) Writes() (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.fails
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
