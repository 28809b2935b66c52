package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/capstream/pkg/capstream/config"
	"github.com/randalmurphal/capstream/pkg/capstream/registry"
)

// DefaultObjectPrefix is the key prefix for object storage sinks.
const DefaultObjectPrefix = "capstream/events"

// Target is what a factory builds a sink for.
type Target struct {
	SessionID string
	DataRoot  string
}

// settingsExpander resolves the placeholders left in sink settings after
// environment expansion. Anything still unresolved is a configuration error.
var settingsExpander = config.NewExpander(config.MissingError)

// vars are the placeholders available to sink settings: ${session_id},
// ${sink}, ${kind} and ${date} (UTC, YYYY-MM-DD).
func (t Target) vars(spec config.SinkSpec) config.Lookup {
	return config.Vars(map[string]string{
		"session_id": t.SessionID,
		"sink":       spec.Name,
		"kind":       spec.Kind,
		"date":       time.Now().UTC().Format(time.DateOnly),
	})
}

// Factory builds a sink from its declaration.
type Factory func(ctx context.Context, spec config.SinkSpec, target Target) (Sink, error)

// Registry maps sink kinds to factories.
type Registry struct {
	factories *registry.Registry[string, Factory]
}

// NewRegistry returns a registry with no kinds.
func NewRegistry() *Registry {
	return &Registry{factories: registry.New[string, Factory]()}
}

// DefaultRegistry returns a registry with the built-in kinds: file, redis,
// s3, gcs and memory.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("file", buildFile)
	r.Register("redis", buildRedis)
	r.Register("s3", buildS3)
	r.Register("gcs", buildGCS)
	r.Register("memory", buildMemory)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories.Register(kind, f)
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	return r.factories.Keys()
}

// Build constructs the sink declared by spec.
func (r *Registry) Build(ctx context.Context, spec config.SinkSpec, target Target) (Sink, error) {
	f, ok := r.factories.Get(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown sink kind %q (known: %v)", spec.Kind, r.Kinds())
	}
	settings, err := settingsExpander.ExpandConfig(spec.Settings, target.vars(spec))
	if err != nil {
		return nil, fmt.Errorf("build %s sink %q: %w", spec.Kind, spec.Name, err)
	}
	spec.Settings = settings

	s, err := f(ctx, spec, target)
	if err != nil {
		return nil, fmt.Errorf("build %s sink %q: %w", spec.Kind, spec.Name, err)
	}
	return s, nil
}

// BuildAll constructs every sink in specs. On error the sinks already built
// are closed.
func (r *Registry) BuildAll(ctx context.Context, specs []config.SinkSpec, target Target) ([]Sink, error) {
	sinks := make([]Sink, 0, len(specs))
	for _, spec := range specs {
		s, err := r.Build(ctx, spec, target)
		if err != nil {
			for _, built := range sinks {
				_ = built.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func limitsFrom(c config.Config) BatchLimits {
	return BatchLimits{
		MaxCount: c.Int("batch.max_count", 0),
		MaxBytes: c.Bytes("batch.max_bytes", 0),
		Linger:   c.Duration("batch.linger", 0),
	}
}

func buildFile(_ context.Context, spec config.SinkSpec, target Target) (Sink, error) {
	c := spec.Settings
	return NewFile(spec.Name, c.String("dir", target.DataRoot), target.SessionID,
		WithFlushEvery(c.Int("flush_every", DefaultFlushEvery)),
		WithFileLimits(limitsFrom(c)),
	)
}

func buildRedis(_ context.Context, spec config.SinkSpec, _ Target) (Sink, error) {
	c := spec.Settings
	return NewRedis(spec.Name, &redis.Options{
		Addr:     c.String("addr", "localhost:6379"),
		Password: c.String("password", ""),
		DB:       c.Int("db", 0),
	}, RedisOptions{
		Stream: c.String("stream", DefaultStream),
		MaxLen: c.Int64("max_len", 0),
		Limits: limitsFrom(c),
	}), nil
}

func objectOptions(c config.Config) ObjectStoreOptions {
	return ObjectStoreOptions{
		Prefix:      c.String("prefix", DefaultObjectPrefix),
		PartRecords: c.Int("part_records", DefaultPartRecords),
		Limits:      limitsFrom(c),
	}
}

func buildS3(ctx context.Context, spec config.SinkSpec, target Target) (Sink, error) {
	c := spec.Settings
	up, err := NewS3Uploader(ctx, S3Config{
		Bucket:   c.String("bucket", ""),
		Region:   c.String("region", ""),
		Endpoint: c.String("endpoint", ""),
	})
	if err != nil {
		return nil, err
	}
	return NewObjectStore(spec.Name, up, target.SessionID, objectOptions(c)), nil
}

func buildGCS(ctx context.Context, spec config.SinkSpec, target Target) (Sink, error) {
	c := spec.Settings
	up, err := NewGCSUploader(ctx, GCSConfig{
		Bucket:   c.String("bucket", ""),
		Endpoint: c.String("endpoint", ""),
	})
	if err != nil {
		return nil, err
	}
	return NewObjectStore(spec.Name, up, target.SessionID, objectOptions(c)), nil
}

func buildMemory(_ context.Context, spec config.SinkSpec, _ Target) (Sink, error) {
	return NewMemory(spec.Name).WithLimits(limitsFrom(spec.Settings)), nil
}
