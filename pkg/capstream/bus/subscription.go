package bus

import (
	"context"
	"fmt"
)

// StartPosition selects where a new subscription begins.
type StartPosition int

const (
	// StartOldest begins at the oldest retained entry.
	StartOldest StartPosition = iota

	// StartNext begins at the next entry to be admitted.
	StartNext
)

// Subscription is a named cursor over a bus. A subscription is meant to be
// consumed by a single goroutine.
type Subscription struct {
	bus  *Bus
	name string

	// Guarded by bus.mu.
	next     uint64
	acked    uint64
	released bool
}

// Name returns the subscriber name.
func (s *Subscription) Name() string {
	return s.name
}

// Fetch blocks until at least one entry is available and returns up to
// limits entries in admission order. Once the bus is closed and this
// subscriber has fetched everything, Fetch returns ErrClosed.
func (s *Subscription) Fetch(ctx context.Context, limits Limits) ([]Entry, error) {
	b := s.bus
	for {
		b.mu.Lock()
		if s.released {
			b.mu.Unlock()
			return nil, ErrUnsubscribed
		}
		if s.next < b.head {
			out := s.collectLocked(limits)
			b.mu.Unlock()
			return out, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		data := b.dataCh
		b.mu.Unlock()

		select {
		case <-data:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Subscription) collectLocked(limits Limits) []Entry {
	b := s.bus
	avail := b.entries[s.next-b.base:]

	n := len(avail)
	if limits.MaxCount > 0 {
		n = min(n, limits.MaxCount)
	}
	if limits.MaxBytes > 0 {
		var total int64
		for i := 0; i < n; i++ {
			total += avail[i].Envelope.Size()
			if total > limits.MaxBytes && i > 0 {
				n = i
				break
			}
		}
	}

	out := make([]Entry, n)
	copy(out, avail[:n])
	s.next += uint64(n)
	return out
}

// Ack acknowledges every entry up to and including offset, allowing the
// bus to trim them once all subscribers agree.
func (s *Subscription) Ack(offset uint64) error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.released {
		return ErrUnsubscribed
	}
	if offset >= s.next {
		return fmt.Errorf("%w: %d (next %d)", ErrAckUndelivered, offset, s.next)
	}
	if offset < s.acked {
		return nil
	}
	s.acked = offset + 1
	b.trimLocked(b.head)
	return nil
}

// Acked returns the first offset not yet acknowledged.
func (s *Subscription) Acked() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.acked
}

// Backlog describes the entries a subscriber has not acknowledged.
type Backlog struct {
	FirstOffset uint64
	LastOffset  uint64
	FirstID     string
	LastID      string
	Count       int
	Bytes       int64
}

// Backlog returns the unacknowledged range still retained by the bus.
func (s *Subscription) Backlog() Backlog {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.backlogLocked()
}

func (s *Subscription) backlogLocked() Backlog {
	b := s.bus
	if s.released || s.acked >= b.head {
		return Backlog{}
	}
	pending := b.entries[s.acked-b.base:]
	first, last := pending[0], pending[len(pending)-1]
	var size int64
	for _, e := range pending {
		size += e.Envelope.Size()
	}
	return Backlog{
		FirstOffset: first.Offset,
		LastOffset:  last.Offset,
		FirstID:     first.Envelope.ID,
		LastID:      last.Envelope.ID,
		Count:       len(pending),
		Bytes:       size,
	}
}

// Unsubscribe releases the subscription. Its unacknowledged entries no
// longer hold back trimming.
func (s *Subscription) Unsubscribe() {
	s.Release()
}

// Release unsubscribes and returns the backlog the subscriber left behind,
// computed atomically with the release so no later admission is counted.
// Releasing twice returns an empty backlog.
func (s *Subscription) Release() Backlog {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.released {
		return Backlog{}
	}
	left := s.backlogLocked()
	s.released = true
	delete(b.subs, s.name)
	if len(b.subs) > 0 {
		b.trimLocked(b.head)
	} else {
		b.trimLocked(s.acked)
	}
	b.broadcastData()
	return left
}
