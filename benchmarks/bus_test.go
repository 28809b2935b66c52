package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/capstream/pkg/capstream/bus"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

var payload = make([]byte, 256)

// BenchmarkBus_PublishAck publishes one envelope and lets a single
// subscriber fetch and acknowledge it.
func BenchmarkBus_PublishAck(b *testing.B) {
	benchmarkFanOut(b, 1)
}

// BenchmarkBus_FanOut_3 measures the same with three subscribers.
func BenchmarkBus_FanOut_3(b *testing.B) {
	benchmarkFanOut(b, 3)
}

// BenchmarkBus_FanOut_8 measures the same with eight subscribers.
func BenchmarkBus_FanOut_8(b *testing.B) {
	benchmarkFanOut(b, 8)
}

func benchmarkFanOut(b *testing.B, subscribers int) {
	ctx := context.Background()
	bs := bus.New(bus.Config{SessionID: "bench", MaxEnvelopes: 4096})
	subs := make([]*bus.Subscription, subscribers)
	for i := range subs {
		sub, err := bs.Subscribe(sinkName(i), bus.StartOldest)
		if err != nil {
			b.Fatal(err)
		}
		subs[i] = sub
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := bs.Publish(ctx, envelope.New("bench", envelope.SourceScreen, uint64(i+1), payload))
		if err != nil {
			b.Fatal(err)
		}
		for _, sub := range subs {
			entries, err := sub.Fetch(ctx, bus.Limits{})
			if err != nil {
				b.Fatal(err)
			}
			_ = sub.Ack(entries[len(entries)-1].Offset)
		}
	}
}

// BenchmarkBus_PublishBatchedFetch publishes 64 envelopes per fetch, the
// shape a dispatcher worker sees under load.
func BenchmarkBus_PublishBatchedFetch(b *testing.B) {
	ctx := context.Background()
	bs := bus.New(bus.Config{SessionID: "bench", MaxEnvelopes: 4096})
	sub, err := bs.Subscribe("sink", bus.StartOldest)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	var seq uint64
	for i := 0; i < b.N; i++ {
		for j := 0; j < 64; j++ {
			seq++
			if _, err := bs.Publish(ctx, envelope.New("bench", envelope.SourceAudio, seq, payload)); err != nil {
				b.Fatal(err)
			}
		}
		entries, err := sub.Fetch(ctx, bus.Limits{MaxCount: 64})
		if err != nil {
			b.Fatal(err)
		}
		_ = sub.Ack(entries[len(entries)-1].Offset)
	}
}
