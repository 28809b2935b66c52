// Package clock provides the session clock: a process-wide monotonic
// timestamp source used to stamp envelopes as they are admitted to a bus.
//
// Timestamps are anchored to the wall clock once, when the Clock is created,
// and advanced from Go's monotonic clock reading afterwards. Corrections to
// the system time therefore never move a Clock backward.
package clock

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Timestamp is nanoseconds since the Unix epoch.
type Timestamp int64

// Time converts the timestamp to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool {
	return t < u
}

// String formats the timestamp as RFC 3339 with nanoseconds.
func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// ParseTimestamp parses a decimal nanosecond count.
func ParseTimestamp(s string) (Timestamp, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Timestamp(n), nil
}

// Source produces timestamps. *Clock is the production implementation.
type Source interface {
	Now() Timestamp
}

// Clock is a monotonic timestamp source. It is safe for concurrent use and
// never blocks.
type Clock struct {
	origin   time.Time // carries the monotonic reading
	originNS int64
	last     atomic.Int64
}

// New creates a clock anchored at the current wall time.
func New() *Clock {
	now := time.Now()
	return &Clock{
		origin:   now,
		originNS: now.UnixNano(),
	}
}

var defaultClock = New()

// Default returns the process-wide clock.
func Default() *Clock {
	return defaultClock
}

// Now returns a timestamp that is never smaller than any value previously
// returned by this clock, including values returned to other goroutines.
func (c *Clock) Now() Timestamp {
	candidate := c.originNS + int64(time.Since(c.origin))
	for {
		last := c.last.Load()
		if candidate <= last {
			return Timestamp(last)
		}
		if c.last.CompareAndSwap(last, candidate) {
			return Timestamp(candidate)
		}
	}
}

// Since returns the time elapsed since ts according to this clock.
func (c *Clock) Since(ts Timestamp) time.Duration {
	return time.Duration(c.Now() - ts)
}
