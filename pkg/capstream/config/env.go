package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// envOverrides holds the CAPSTREAM_* variables. Unset variables leave the
// file value alone.
type envOverrides struct {
	DataRoot     string        `env:"CAPSTREAM_DATA_ROOT"`
	StorePath    string        `env:"CAPSTREAM_STORE_PATH"`
	RedisAddr    string        `env:"CAPSTREAM_REDIS_ADDR"`
	RedisStream  string        `env:"CAPSTREAM_REDIS_STREAM"`
	S3Bucket     string        `env:"CAPSTREAM_S3_BUCKET"`
	S3Prefix     string        `env:"CAPSTREAM_S3_PREFIX"`
	S3Endpoint   string        `env:"CAPSTREAM_S3_ENDPOINT"`
	DrainTimeout time.Duration `env:"CAPSTREAM_DRAIN_TIMEOUT"`
	LogLevel     string        `env:"CAPSTREAM_LOG_LEVEL"`
}

// ApplyEnv overlays CAPSTREAM_* environment variables onto p. Sink
// overrides apply to every sink of the matching kind.
func ApplyEnv(p *Pipeline) error {
	var e envOverrides
	if err := ParseEnv(&e); err != nil {
		return err
	}

	if e.DataRoot != "" {
		p.Session.DataRoot = e.DataRoot
	}
	if e.StorePath != "" {
		p.Store.Path = e.StorePath
	}
	if e.DrainTimeout > 0 {
		p.Session.DrainTimeout = e.DrainTimeout
	}
	if e.LogLevel != "" {
		p.LogLevel = e.LogLevel
	}

	for i := range p.Sinks {
		s := &p.Sinks[i]
		switch s.Kind {
		case "redis":
			s.set("addr", e.RedisAddr)
			s.set("stream", e.RedisStream)
		case "s3":
			s.set("bucket", e.S3Bucket)
			s.set("prefix", e.S3Prefix)
			s.set("endpoint", e.S3Endpoint)
		}
	}
	return nil
}
