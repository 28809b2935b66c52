package session

import (
	"context"
	"fmt"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/config"
	"github.com/randalmurphal/capstream/pkg/capstream/dispatch"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
	"github.com/randalmurphal/capstream/pkg/capstream/producer"
	"github.com/randalmurphal/capstream/pkg/capstream/sink"
)

// FromPipeline turns a validated pipeline file into a session Config.
// Sinks are built from reg when the session starts, once its ID is known.
func FromPipeline(p config.Pipeline, reg *sink.Registry, sources ...producer.Source) (Config, error) {
	if err := p.Validate(); err != nil {
		return Config{}, err
	}
	policy, err := producer.ParseOverflowPolicy(p.Session.OverflowPolicy)
	if err != nil {
		return Config{}, fmt.Errorf("session.overflow_policy: %w", err)
	}
	if reg == nil {
		reg = sink.DefaultRegistry()
	}

	specs := append([]config.SinkSpec(nil), p.Sinks...)
	dataRoot := p.Session.DataRoot
	return Config{
		Producers: sources,
		BuildSinks: func(ctx context.Context, sessionID string) ([]sink.Sink, error) {
			return reg.BuildAll(ctx, specs, sink.Target{SessionID: sessionID, DataRoot: dataRoot})
		},
		Bus: bus.Config{
			MaxEnvelopes:   p.Bus.MaxEnvelopes,
			MaxBytes:       p.Bus.MaxBytes,
			PublishTimeout: p.Bus.PublishTimeout,
		},
		Dispatch: dispatch.Config{
			Retry: cserrors.NewRetryConfig(
				cserrors.WithMaxAttempts(p.Dispatch.MaxAttempts),
				cserrors.WithInitialBackoff(p.Dispatch.InitialBackoff),
				cserrors.WithMaxBackoff(p.Dispatch.MaxBackoff),
				cserrors.WithBackoffFactor(p.Dispatch.BackoffFactor),
				cserrors.WithJitter(p.Dispatch.Jitter),
			),
			ProbeInterval: p.Dispatch.ProbeInterval,
			Batch: sink.BatchLimits{
				MaxCount: p.Dispatch.BatchMaxCount,
				MaxBytes: p.Dispatch.BatchMaxBytes,
				Linger:   p.Dispatch.BatchLinger,
			},
		},
		OverflowPolicy: policy,
		DrainTimeout:   p.Session.DrainTimeout,
	}, nil
}
