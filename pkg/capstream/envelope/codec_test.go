package envelope_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/capstream/pkg/capstream/clock"
	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

func admitted(seq uint64, payload []byte) envelope.Envelope {
	e := envelope.New("sess-1", envelope.SourceScreen, seq, payload)
	e.ID = "0190f0a8-7b1c-7cde-8f00-00000000000" + string(rune('0'+seq%10))
	e.CapturedAt = clock.Timestamp(1_700_000_000_000_000_000 + int64(seq))
	return e
}

func TestMarshal_FieldNames(t *testing.T) {
	data, err := envelope.Marshal(admitted(3, []byte{0x00, 0xff, '\n'}))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"id", "session_id", "source", "logical_seq", "captured_at", "payload_size_bytes", "payload"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "screen", raw["source"])
	assert.NotContains(t, string(data), "\n", "binary payload must not break the line format")
}

func TestRoundTrip_Examples(t *testing.T) {
	tests := []struct {
		name string
		env  envelope.Envelope
	}{
		{"binary payload", admitted(1, []byte{0, 1, 2, 0xfe, 0xff})},
		{"nil payload", admitted(2, nil)},
		{"empty payload", admitted(3, []byte{})},
		{"declared size", func() envelope.Envelope {
			e := admitted(4, []byte("frames/frame_000004.png"))
			e.PayloadSize = 6220800
			return e
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := envelope.Marshal(tt.env)
			require.NoError(t, err)

			got, err := envelope.Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, tt.env, got)
		})
	}
}

func TestRoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(e)) == e", prop.ForAll(
		func(id, session string, source envelope.Source, seq uint64, capturedAt int64, size int64, payload []byte) bool {
			e := envelope.Envelope{
				ID:          id,
				SessionID:   session,
				Source:      source,
				LogicalSeq:  seq,
				CapturedAt:  clock.Timestamp(capturedAt),
				PayloadSize: size,
				Payload:     payload,
			}
			data, err := envelope.Marshal(e)
			if err != nil {
				return false
			}
			got, err := envelope.Unmarshal(data)
			if err != nil {
				return false
			}
			return got.ID == e.ID &&
				got.SessionID == e.SessionID &&
				got.Source == e.Source &&
				got.LogicalSeq == e.LogicalSeq &&
				got.CapturedAt == e.CapturedAt &&
				got.PayloadSize == e.PayloadSize &&
				bytes.Equal(got.Payload, e.Payload) &&
				(got.Payload == nil) == (e.Payload == nil)
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.OneConstOf(envelope.SourceScreen, envelope.SourceAudio, envelope.SourceInput, envelope.SourceDerived),
		gen.UInt64(),
		gen.Int64(),
		gen.Int64Range(0, 1<<40),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestUnmarshal_RejectsUnknownSource(t *testing.T) {
	_, err := envelope.Unmarshal([]byte(`{"id":"a","session_id":"s","source":"gamepad","logical_seq":1,"captured_at":1,"payload_size_bytes":0,"payload":null}`))
	assert.ErrorIs(t, err, envelope.ErrInvalidSource)
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := envelope.NewWriter(&buf)

	want := []envelope.Envelope{admitted(1, []byte("a")), admitted(2, []byte("b")), admitted(3, nil)}
	for _, e := range want {
		require.NoError(t, w.Write(e))
	}
	assert.Equal(t, 3, w.Count())

	got, err := envelope.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReader_DiscardsTrailingPartialLine(t *testing.T) {
	var buf bytes.Buffer
	w := envelope.NewWriter(&buf)
	require.NoError(t, w.Write(admitted(1, []byte("complete"))))
	require.NoError(t, w.Write(admitted(2, []byte("complete"))))

	line, err := envelope.MarshalLine(admitted(3, []byte("interrupted")))
	require.NoError(t, err)
	buf.Write(line[:len(line)/2])

	r := envelope.NewReader(&buf)
	var got []envelope.Envelope
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, e)
	}

	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].LogicalSeq)
	assert.True(t, r.Truncated())
}

func TestReader_MalformedTerminatedLine(t *testing.T) {
	good, err := envelope.MarshalLine(admitted(1, nil))
	require.NoError(t, err)

	input := string(good) + "\n" + "{not json}\n"
	r := envelope.NewReader(strings.NewReader(input))

	_, err = r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	var decodeErr *envelope.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 3, decodeErr.Line)
}
