package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Pipeline is the typed recorder configuration.
type Pipeline struct {
	Bus      BusSettings
	Dispatch DispatchSettings
	Session  SessionSettings
	Store    StoreSettings
	Sinks    []SinkSpec
	LogLevel string
}

// BusSettings bounds a session bus.
type BusSettings struct {
	MaxEnvelopes   int
	MaxBytes       int64
	PublishTimeout time.Duration
}

// DispatchSettings controls sink delivery.
type DispatchSettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
	ProbeInterval  time.Duration
	BatchMaxCount  int
	BatchMaxBytes  int64
	BatchLinger    time.Duration
}

// SessionSettings controls session lifecycle.
type SessionSettings struct {
	DrainTimeout   time.Duration
	OverflowPolicy string
	DataRoot       string
}

// StoreSettings locates the checkpoint database. An empty Path keeps
// cursors in memory.
type StoreSettings struct {
	Path string
}

// SinkSpec declares one sink. Settings holds the kind-specific keys.
type SinkSpec struct {
	Kind     string
	Name     string
	Settings Config
}

func (s *SinkSpec) set(key, value string) {
	if value == "" {
		return
	}
	raw := make(map[string]any, len(s.Settings.Raw())+1)
	for k, v := range s.Settings.Raw() {
		raw[k] = v
	}
	raw[key] = value
	s.Settings = New(raw)
}

// DefaultPipeline returns the built-in defaults: one JSONL file sink under
// ./data and cursors kept in memory.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Bus: BusSettings{
			MaxEnvelopes:   1024,
			MaxBytes:       64 << 20,
			PublishTimeout: time.Second,
		},
		Dispatch: DispatchSettings{
			MaxAttempts:    5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			BackoffFactor:  2.0,
			Jitter:         0.1,
			ProbeInterval:  time.Second,
			BatchMaxCount:  64,
			BatchMaxBytes:  4 << 20,
		},
		Session: SessionSettings{
			DrainTimeout:   10 * time.Second,
			OverflowPolicy: "drop",
			DataRoot:       "data",
		},
		Sinks:    []SinkSpec{{Kind: "file", Name: "file", Settings: New(nil)}},
		LogLevel: "info",
	}
}

// ParsePipeline builds a Pipeline from c on top of DefaultPipeline.
func ParsePipeline(c Config) (Pipeline, error) {
	p := DefaultPipeline()

	p.Bus.MaxEnvelopes = c.Int("bus.max_envelopes", p.Bus.MaxEnvelopes)
	p.Bus.MaxBytes = c.Bytes("bus.max_bytes", p.Bus.MaxBytes)
	p.Bus.PublishTimeout = c.Duration("bus.publish_timeout", p.Bus.PublishTimeout)

	d := &p.Dispatch
	d.MaxAttempts = c.Int("dispatch.max_attempts", d.MaxAttempts)
	d.InitialBackoff = c.Duration("dispatch.initial_backoff", d.InitialBackoff)
	d.MaxBackoff = c.Duration("dispatch.max_backoff", d.MaxBackoff)
	d.BackoffFactor = c.Float("dispatch.backoff_factor", d.BackoffFactor)
	d.Jitter = c.Float("dispatch.jitter", d.Jitter)
	d.ProbeInterval = c.Duration("dispatch.probe_interval", d.ProbeInterval)
	d.BatchMaxCount = c.Int("dispatch.batch.max_count", d.BatchMaxCount)
	d.BatchMaxBytes = c.Bytes("dispatch.batch.max_bytes", d.BatchMaxBytes)
	d.BatchLinger = c.Duration("dispatch.batch.linger", d.BatchLinger)

	p.Session.DrainTimeout = c.Duration("session.drain_timeout", p.Session.DrainTimeout)
	p.Session.OverflowPolicy = c.String("session.overflow_policy", p.Session.OverflowPolicy)
	p.Session.DataRoot = c.String("session.data_root", p.Session.DataRoot)

	p.Store.Path = c.String("store.path", p.Store.Path)
	p.LogLevel = c.String("log_level", p.LogLevel)

	if c.Has("sinks") {
		p.Sinks = nil
		for i, sc := range c.List("sinks") {
			kind := sc.String("kind", "")
			if kind == "" {
				return Pipeline{}, fmt.Errorf("sinks[%d]: kind is required", i)
			}
			p.Sinks = append(p.Sinks, SinkSpec{
				Kind:     kind,
				Name:     sc.String("name", kind),
				Settings: sc,
			})
		}
	}

	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// Validate checks cross-field constraints.
func (p Pipeline) Validate() error {
	if p.Bus.MaxEnvelopes <= 0 {
		return fmt.Errorf("bus.max_envelopes must be positive, got %d", p.Bus.MaxEnvelopes)
	}
	if p.Bus.MaxBytes <= 0 {
		return fmt.Errorf("bus.max_bytes must be positive, got %d", p.Bus.MaxBytes)
	}
	if p.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1, got %d", p.Dispatch.MaxAttempts)
	}
	switch strings.ToLower(p.Session.OverflowPolicy) {
	case "", "drop", "retry":
	default:
		return fmt.Errorf("session.overflow_policy must be drop or retry, got %q", p.Session.OverflowPolicy)
	}
	if len(p.Sinks) == 0 {
		return fmt.Errorf("at least one sink is required")
	}
	seen := make(map[string]bool, len(p.Sinks))
	for _, s := range p.Sinks {
		if seen[s.Name] {
			return fmt.Errorf("duplicate sink name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// LoadPipeline reads path (if non-empty), applies defaults, then applies
// environment overrides.
func LoadPipeline(path string) (Pipeline, error) {
	c := New(nil)
	if path != "" {
		var err error
		if c, err = FromFile(path); err != nil {
			return Pipeline{}, err
		}
	}

	p, err := ParsePipeline(c)
	if err != nil {
		return Pipeline{}, err
	}
	if err := ApplyEnv(&p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (p Pipeline) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(p.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
