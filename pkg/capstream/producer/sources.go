package producer

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

// Generator builds the n-th capture of a synthetic source, starting at 1.
type Generator func(n uint64) Sample

// Ticker is a source that captures at a fixed rate, like a screen grabber
// at 30 fps or an audio recorder emitting 10 chunks per second.
type Ticker struct {
	name     string
	kind     envelope.Source
	perSec   float64
	generate Generator
}

// NewTicker creates a fixed-rate source.
func NewTicker(name string, kind envelope.Source, perSecond float64, gen Generator) *Ticker {
	return &Ticker{name: name, kind: kind, perSec: perSecond, generate: gen}
}

// Name implements Source.
func (t *Ticker) Name() string { return t.name }

// Kind implements Source.
func (t *Ticker) Kind() envelope.Source { return t.kind }

// Open implements Source.
func (t *Ticker) Open(_ context.Context, _ string) (Capture, error) {
	return &tickerCapture{
		limiter:  rate.NewLimiter(rate.Limit(t.perSec), 1),
		generate: t.generate,
	}, nil
}

type tickerCapture struct {
	limiter  *rate.Limiter
	generate Generator
	n        uint64
}

func (c *tickerCapture) Poll(ctx context.Context) ([]Sample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	c.n++
	return []Sample{c.generate(c.n)}, nil
}

func (c *tickerCapture) Close() error { return nil }

// Irregular is a source that captures at random intervals in [min, max),
// like keyboard and mouse input.
type Irregular struct {
	name     string
	kind     envelope.Source
	min, max time.Duration
	generate Generator
}

// NewIrregular creates a source with random capture intervals.
func NewIrregular(name string, kind envelope.Source, minInterval, maxInterval time.Duration, gen Generator) *Irregular {
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	return &Irregular{name: name, kind: kind, min: minInterval, max: maxInterval, generate: gen}
}

// Name implements Source.
func (s *Irregular) Name() string { return s.name }

// Kind implements Source.
func (s *Irregular) Kind() envelope.Source { return s.kind }

// Open implements Source.
func (s *Irregular) Open(_ context.Context, _ string) (Capture, error) {
	return &irregularCapture{src: s}, nil
}

type irregularCapture struct {
	src *Irregular
	n   uint64
}

func (c *irregularCapture) Poll(ctx context.Context) ([]Sample, error) {
	wait := c.src.min
	if spread := c.src.max - c.src.min; spread > 0 {
		wait += rand.N(spread)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	c.n++
	return []Sample{c.src.generate(c.n)}, nil
}

func (c *irregularCapture) Close() error { return nil }

// FuncSource adapts plain functions to Source. Setup, when set, runs on
// Open and its error fails the open. Teardown runs on Close.
type FuncSource struct {
	SourceName string
	SourceKind envelope.Source
	Setup      func(ctx context.Context, sessionID string) error
	PollFunc   func(ctx context.Context) ([]Sample, error)
	Teardown   func() error
}

// Name implements Source.
func (f *FuncSource) Name() string { return f.SourceName }

// Kind implements Source.
func (f *FuncSource) Kind() envelope.Source { return f.SourceKind }

// Open implements Source.
func (f *FuncSource) Open(ctx context.Context, sessionID string) (Capture, error) {
	if f.Setup != nil {
		if err := f.Setup(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return funcCapture{f: f}, nil
}

type funcCapture struct {
	f *FuncSource
}

func (c funcCapture) Poll(ctx context.Context) ([]Sample, error) {
	return c.f.PollFunc(ctx)
}

func (c funcCapture) Close() error {
	if c.f.Teardown != nil {
		return c.f.Teardown()
	}
	return nil
}
