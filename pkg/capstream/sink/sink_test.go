package sink

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/capstream/pkg/capstream/clock"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

// admitted returns envelopes with sequence numbers from..to inclusive,
// stamped as a bus would.
func admitted(from, to int) []envelope.Envelope {
	out := make([]envelope.Envelope, 0, to-from+1)
	for i := from; i <= to; i++ {
		e := envelope.New("s1", envelope.SourceScreen, uint64(i), []byte{byte(i), 0xff})
		e.ID = fmt.Sprintf("01900000-0000-7000-8000-%012d", i)
		e.CapturedAt = clock.Timestamp(int64(i) * int64(time.Millisecond))
		out = append(out, e)
	}
	return out
}

func ids(envs []envelope.Envelope) []uint64 {
	out := make([]uint64, len(envs))
	for i, e := range envs {
		out[i] = e.LogicalSeq
	}
	return out
}

func seqs(from, to int) []uint64 {
	var out []uint64
	for i := from; i <= to; i++ {
		out = append(out, uint64(i))
	}
	return out
}

func TestWatermark(t *testing.T) {
	all := admitted(1, 5)
	var w watermark

	assert.Len(t, w.fresh(all), 5)

	w.accept(all[2].ID)
	assert.Equal(t, seqs(4, 5), ids(w.fresh(all)))

	w.accept(all[0].ID)
	assert.Equal(t, all[2].ID, w.last, "watermark never moves back")

	w.accept(all[4].ID)
	assert.Empty(t, w.fresh(all))
}

func TestLimitsOf(t *testing.T) {
	fallback := DefaultBatchLimits()

	assert.Equal(t, fallback, LimitsOf(plainSink{}, fallback))
	assert.Equal(t, fallback, LimitsOf(NewMemory("m"), fallback), "zero limits fall back")

	custom := NewMemory("m").WithLimits(BatchLimits{MaxCount: 3, Linger: time.Millisecond})
	got := LimitsOf(custom, fallback)
	assert.Equal(t, 3, got.MaxCount)
	assert.Equal(t, fallback.MaxBytes, got.MaxBytes)
	assert.Equal(t, time.Millisecond, got.Linger)
}

// plainSink does not implement Batcher.
type plainSink struct{ Sink }
