package producer

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

// RuntimeSnapshot is the payload emitted by RuntimeStats.
type RuntimeSnapshot struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapInuseBytes uint64 `json:"heap_inuse_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
	PauseTotalNs   uint64 `json:"pause_total_ns"`
	NumCPU         int    `json:"num_cpu"`
}

// RuntimeStats is a derived source sampling the recorder's own process
// health so recordings can be correlated with capture stalls.
type RuntimeStats struct {
	name     string
	interval time.Duration
}

// NewRuntimeStats samples every interval.
func NewRuntimeStats(interval time.Duration) *RuntimeStats {
	return &RuntimeStats{name: "runtime", interval: interval}
}

// Name implements Source.
func (r *RuntimeStats) Name() string { return r.name }

// Kind implements Source.
func (r *RuntimeStats) Kind() envelope.Source { return envelope.SourceDerived }

// Open implements Source.
func (r *RuntimeStats) Open(_ context.Context, _ string) (Capture, error) {
	return &runtimeCapture{limiter: rate.NewLimiter(rate.Every(r.interval), 1)}, nil
}

type runtimeCapture struct {
	limiter *rate.Limiter
}

func (c *runtimeCapture) Poll(ctx context.Context) ([]Sample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	data, err := json.Marshal(RuntimeSnapshot{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapInuseBytes: ms.HeapInuse,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
		PauseTotalNs:   ms.PauseTotalNs,
		NumCPU:         runtime.NumCPU(),
	})
	if err != nil {
		return nil, err
	}
	return []Sample{{Payload: data}}, nil
}

func (c *runtimeCapture) Close() error { return nil }
