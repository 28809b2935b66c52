package envelope

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/randalmurphal/capstream/pkg/capstream/clock"
)

// record is the on-the-wire shape. Payload is base64 encoded by encoding/json.
type record struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Source      Source          `json:"source"`
	LogicalSeq  uint64          `json:"logical_seq"`
	CapturedAt  clock.Timestamp `json:"captured_at"`
	PayloadSize int64           `json:"payload_size_bytes"`
	Payload     []byte          `json:"payload"`
}

// Marshal encodes an envelope as a single JSON record without a trailing newline.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(record(e))
}

// MarshalLine encodes an envelope followed by a newline.
func MarshalLine(e Envelope) ([]byte, error) {
	data, err := Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a single record.
func Unmarshal(data []byte) (Envelope, error) {
	var r record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Envelope{}, err
	}
	if !r.Source.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidSource, r.Source)
	}
	return Envelope(r), nil
}

// DecodeError reports a malformed, newline-terminated record.
type DecodeError struct {
	Line int
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record at line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Writer appends envelopes as newline-terminated records.
type Writer struct {
	w io.Writer
	n int
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one record.
func (w *Writer) Write(e Envelope) error {
	line, err := MarshalLine(e)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", e.ID, err)
	}
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.n
}

// Reader reads records written by Writer. A final line without a newline is
// the remnant of an interrupted write and is discarded.
type Reader struct {
	r         *bufio.Reader
	line      int
	truncated bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next envelope, or io.EOF when no complete records remain.
func (r *Reader) Next() (Envelope, error) {
	for {
		data, err := r.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(data)) > 0 {
					r.truncated = true
				}
				return Envelope{}, io.EOF
			}
			return Envelope{}, err
		}
		r.line++

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}

		e, err := Unmarshal(data)
		if err != nil {
			return Envelope{}, &DecodeError{Line: r.line, Err: err}
		}
		return e, nil
	}
}

// Truncated reports whether a partial trailing line was discarded.
// Only meaningful after Next has returned io.EOF.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// ReadAll reads every complete record from rd.
func ReadAll(rd io.Reader) ([]Envelope, error) {
	r := NewReader(rd)
	var out []Envelope
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
