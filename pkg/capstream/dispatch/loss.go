package dispatch

import (
	"time"

	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

// LossReason says why envelopes were abandoned for a sink.
type LossReason string

// Loss reasons.
const (
	LossDetached         LossReason = "detached"
	LossDegradedDetached LossReason = "degraded_detached"
	LossDrainTimeout     LossReason = "drain_timeout"
	LossAborted          LossReason = "aborted"
	// LossUnflushed covers envelopes a sink accepted but failed to commit
	// before it was closed.
	LossUnflushed LossReason = "unflushed"
)

// Loss is a contiguous bus range a sink will never receive.
type Loss struct {
	Sink        string
	FirstOffset uint64
	LastOffset  uint64
	FirstID     string
	LastID      string
	Count       int
	Bytes       int64
	Reason      LossReason
	At          time.Time
}

// HealthEvent reports a sink changing health.
type HealthEvent struct {
	Sink     string
	Health   sink.Health
	Err      error
	Attempts int
	At       time.Time
}
