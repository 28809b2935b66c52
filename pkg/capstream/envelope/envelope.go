// Package envelope defines the canonical unit of telemetry moving through
// the capture pipeline and its line-delimited record format.
package envelope

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/capstream/pkg/capstream/clock"
)

// Source identifies the class of producer that emitted an envelope.
type Source string

// Producer classes.
const (
	SourceScreen  Source = "screen"
	SourceAudio   Source = "audio"
	SourceInput   Source = "input"
	SourceDerived Source = "derived"
)

// Sources lists every valid Source.
var Sources = []Source{SourceScreen, SourceAudio, SourceInput, SourceDerived}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceScreen, SourceAudio, SourceInput, SourceDerived:
		return true
	}
	return false
}

// ParseSource converts a string to a Source.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown source %q", s)
	}
	return src, nil
}

// Envelope is one captured telemetry item. Envelopes are values; once a bus
// has admitted one (assigning ID and CapturedAt) it must not be modified.
// Payload bytes are shared between copies and must be treated as read-only.
type Envelope struct {
	ID          string
	SessionID   string
	Source      Source
	LogicalSeq  uint64
	CapturedAt  clock.Timestamp
	PayloadSize int64
	Payload     []byte
}

// Validation errors.
var (
	ErrMissingSession = errors.New("envelope: session id is required")
	ErrInvalidSource  = errors.New("envelope: invalid source")
	ErrZeroSequence   = errors.New("envelope: logical sequence must start at 1")
)

// New builds an unadmitted envelope. ID and CapturedAt are assigned by the
// bus at admission.
func New(sessionID string, source Source, seq uint64, payload []byte) Envelope {
	return Envelope{
		SessionID:   sessionID,
		Source:      source,
		LogicalSeq:  seq,
		PayloadSize: int64(len(payload)),
		Payload:     payload,
	}
}

// Validate checks the fields a producer is responsible for.
func (e Envelope) Validate() error {
	if e.SessionID == "" {
		return ErrMissingSession
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, e.Source)
	}
	if e.LogicalSeq == 0 {
		return ErrZeroSequence
	}
	return nil
}

// Admitted reports whether the envelope has been stamped by a bus.
func (e Envelope) Admitted() bool {
	return e.ID != ""
}

// Size returns the bytes charged against bus capacity.
func (e Envelope) Size() int64 {
	if e.PayloadSize > 0 {
		return e.PayloadSize
	}
	return int64(len(e.Payload))
}
