package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
)

// DefaultStream is the stream Redis publishes to when none is configured.
const DefaultStream = "capstream.events"

// StreamField is the stream entry field holding the encoded envelope.
const StreamField = "envelope"

// StreamClient is the subset of the go-redis client Redis uses.
// *redis.Client satisfies it.
type StreamClient interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisOptions configures a Redis sink.
type RedisOptions struct {
	// Stream defaults to DefaultStream.
	Stream string

	// MaxLen caps the stream with approximate trimming. Zero disables it.
	MaxLen int64

	Limits BatchLimits
}

// Redis publishes each envelope as one Redis Streams entry
// (XADD <stream> * envelope <line>). A batch goes out as one pipeline; when
// it fails, the watermark covers only the leading replies that succeeded,
// so a retry resumes after the last entry that went through.
type Redis struct {
	name   string
	client StreamClient
	owned  bool
	opts   RedisOptions

	mu     sync.Mutex
	mark   watermark
	closed bool
}

// NewRedis connects a sink to the server described by ro.
func NewRedis(name string, ro *redis.Options, opts RedisOptions) *Redis {
	r := NewRedisWithClient(name, redis.NewClient(ro), opts)
	r.owned = true
	return r
}

// NewRedisWithClient builds a sink on an existing client. The client is
// not closed by Close.
func NewRedisWithClient(name string, client StreamClient, opts RedisOptions) *Redis {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	return &Redis{name: name, client: client, opts: opts}
}

// Name implements Sink.
func (r *Redis) Name() string { return r.name }

// Stream returns the target stream key.
func (r *Redis) Stream() string { return r.opts.Stream }

// BatchLimits implements Batcher.
func (r *Redis) BatchLimits() BatchLimits { return r.opts.Limits }

// Write implements Sink.
func (r *Redis) Write(ctx context.Context, batch []envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	fresh := r.mark.fresh(batch)
	if len(fresh) == 0 {
		return nil
	}

	lines := make([]string, len(fresh))
	for i, e := range fresh {
		line, err := envelope.Marshal(e)
		if err != nil {
			return cserrors.Permanent(fmt.Errorf("encode envelope %s: %w", e.ID, err), "redis sink")
		}
		lines[i] = string(line)
	}

	cmds := make([]*redis.StringCmd, 0, len(fresh))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, line := range lines {
			cmds = append(cmds, pipe.XAdd(ctx, r.addArgs(line)))
		}
		return nil
	})
	for i, cmd := range cmds {
		if cmd.Err() != nil {
			break
		}
		r.mark.accept(fresh[i].ID)
	}
	if err != nil {
		return cserrors.Transient(fmt.Errorf("xadd %s: %w", r.opts.Stream, err), "redis sink")
	}
	return nil
}

func (r *Redis) addArgs(line string) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: r.opts.Stream,
		Values: map[string]any{StreamField: line},
	}
	if r.opts.MaxLen > 0 {
		args.MaxLen = r.opts.MaxLen
		args.Approx = true
	}
	return args
}

// Flush implements Sink. Write returns only after the pipeline is
// executed, so there is nothing buffered.
func (r *Redis) Flush(context.Context) error { return nil }

// HealthCheck implements Sink.
func (r *Redis) HealthCheck(ctx context.Context) Health {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed || r.client.Ping(ctx).Err() != nil {
		return HealthDegraded
	}
	return HealthOK
}

// Close implements Sink.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.client.(interface{ Close() error }); ok && r.owned {
		return c.Close()
	}
	return nil
}
