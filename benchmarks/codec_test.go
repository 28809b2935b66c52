package benchmarks

import (
	"bytes"
	"testing"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

func admitted() envelope.Envelope {
	e := envelope.New("bench", envelope.SourceInput, 42, []byte(`{"type":"key_down","key":"w"}`))
	e.ID = "0190a5c2-7e1b-7000-8000-000000000042"
	e.CapturedAt = 1735830245000000000
	return e
}

// BenchmarkCodec_MarshalLine measures encoding one JSONL record.
func BenchmarkCodec_MarshalLine(b *testing.B) {
	e := admitted()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = envelope.MarshalLine(e)
	}
}

// BenchmarkCodec_Unmarshal measures decoding one record.
func BenchmarkCodec_Unmarshal(b *testing.B) {
	data, err := envelope.Marshal(admitted())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = envelope.Unmarshal(data)
	}
}

// BenchmarkCodec_ReadAll_1000 measures reading back a 1000-record log.
func BenchmarkCodec_ReadAll_1000(b *testing.B) {
	var buf bytes.Buffer
	w := envelope.NewWriter(&buf)
	for i := 0; i < 1000; i++ {
		if err := w.Write(admitted()); err != nil {
			b.Fatal(err)
		}
	}
	data := buf.Bytes()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		envs, err := envelope.ReadAll(bytes.NewReader(data))
		if err != nil || len(envs) != 1000 {
			b.Fatal(err, len(envs))
		}
	}
}
