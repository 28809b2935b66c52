// Package producer adapts capture backends to the session bus.
//
// A Source is the external capture backend (screen grabber, audio loopback,
// input hook). An Adapter owns one Source for one session: it assigns each
// capture the next logical sequence number, publishes it, and records gaps
// for captures that were dropped before or at the bus.
package producer

import (
	"context"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

// Source is a capture backend.
type Source interface {
	// Name identifies the source in logs, gaps, and errors.
	Name() string

	// Kind is the envelope source class of everything this source emits.
	Kind() envelope.Source

	// Open starts capturing for a session. An error means the device is
	// unavailable and the session cannot start.
	Open(ctx context.Context, sessionID string) (Capture, error)
}

// Capture is an open capture handle.
type Capture interface {
	// Poll blocks until at least one sample is ready or ctx is done.
	// A transient error (errors.Transient) drops one capture; any other
	// error ends capture for the session.
	Poll(ctx context.Context) ([]Sample, error)

	// Close stops capturing and releases the device.
	Close() error
}

// Sample is one capture.
type Sample struct {
	// Payload is the opaque captured data or a reference to it.
	Payload []byte

	// Size optionally declares the bytes the payload stands for, such as
	// the decoded size of a frame stored by path. Zero means len(Payload).
	Size int64

	// Skipped marks a capture the backend lost. It still consumes a
	// sequence number so the loss is visible downstream.
	Skipped bool
}

// Publisher admits envelopes to a bus.
type Publisher interface {
	Publish(ctx context.Context, env envelope.Envelope) (envelope.Envelope, error)
}
