package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
)

// DefaultFlushEvery is how many records of one batch File buffers before
// flushing.
const DefaultFlushEvery = 50

// FileName is the log file name inside a session directory.
const FileName = "events.jsonl"

// File appends envelopes to <dir>/<session>/events.jsonl. Records are
// flushed to the OS every FlushEvery records within a batch and before
// Write returns; there is no fsync. Committed reports the last record
// flushed.
//
// On open an existing log is scanned: a trailing partial line left by an
// interrupted write is cut off and the last stored ID becomes the
// watermark, so a restarted writer never duplicates records already on
// disk.
type File struct {
	name       string
	path       string
	flushEvery int
	limits     BatchLimits

	mu      sync.Mutex
	f       *os.File
	buf     *bufio.Writer
	w       *envelope.Writer
	pending int
	mark    watermark
	// committed is the last ID handed to the OS.
	committed string
	closed    bool
}

// FileOption configures a File.
type FileOption func(*File)

// WithFlushEvery sets the in-batch flush interval in records.
func WithFlushEvery(n int) FileOption {
	return func(f *File) {
		if n > 0 {
			f.flushEvery = n
		}
	}
}

// WithFileLimits sets the batch limits the sink reports.
func WithFileLimits(l BatchLimits) FileOption {
	return func(f *File) {
		f.limits = l
	}
}

// FilePath returns the log path for a session under dir.
func FilePath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID, FileName)
}

// NewFile opens (or creates) the session log under dir.
func NewFile(name, dir, sessionID string, opts ...FileOption) (*File, error) {
	f := &File{
		name:       name,
		path:       FilePath(dir, sessionID),
		flushEvery: DefaultFlushEvery,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

// open repairs the tail of the log and opens it for appending.
func (f *File) open() error {
	last, err := repairTail(f.path)
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	f.f = fh
	f.buf = bufio.NewWriterSize(fh, 64*1024)
	f.w = envelope.NewWriter(f.buf)
	f.pending = 0
	f.mark = watermark{last: last}
	f.committed = last
	return nil
}

// repairTail truncates a partial final line and returns the last stored ID.
func repairTail(path string) (string, error) {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	var (
		r     = bufio.NewReaderSize(fh, 64*1024)
		valid int64
		total int64
		last  string
		line  int
	)
	for {
		data, err := r.ReadBytes('\n')
		total += int64(len(data))
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("scan %s: %w", path, err)
		}
		line++
		valid = total

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		e, err := envelope.Unmarshal(data)
		if err != nil {
			return "", fmt.Errorf("scan %s: %w", path, &envelope.DecodeError{Line: line, Err: err})
		}
		last = e.ID
	}

	if valid < total {
		if err := os.Truncate(path, valid); err != nil {
			return "", fmt.Errorf("truncate partial record in %s: %w", path, err)
		}
	}
	return last, nil
}

// Name implements Sink.
func (f *File) Name() string { return f.name }

// BatchLimits implements Batcher.
func (f *File) BatchLimits() BatchLimits { return f.limits }

// Path returns the log file path.
func (f *File) Path() string { return f.path }

// Write implements Sink.
func (f *File) Write(_ context.Context, batch []envelope.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.recoverLocked(); err != nil {
		return err
	}

	for _, e := range f.mark.fresh(batch) {
		if err := f.w.Write(e); err != nil {
			return f.failLocked(err)
		}
		f.mark.accept(e.ID)
		f.pending++
		if f.pending >= f.flushEvery {
			if err := f.flushLocked(); err != nil {
				return err
			}
		}
	}
	// A failed flush drops the buffer, so nothing may stay buffered past
	// the Write that accepted it.
	if f.pending > 0 {
		return f.flushLocked()
	}
	return nil
}

func (f *File) flushLocked() error {
	if err := f.buf.Flush(); err != nil {
		return f.failLocked(err)
	}
	f.pending = 0
	f.committed = f.mark.last
	return nil
}

// Committed implements Committer.
func (f *File) Committed() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

// Flush implements Sink.
func (f *File) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.recoverLocked(); err != nil {
		return err
	}
	return f.flushLocked()
}

// failLocked records a write failure. A bufio.Writer stays failed after an
// error, so the handle is dropped and reopened on the next call, which
// rescans the log and resets the watermark to what reached the disk.
func (f *File) failLocked(err error) error {
	_ = f.f.Close()
	f.f = nil
	return cserrors.Transient(fmt.Errorf("write %s: %w", f.path, err), "file sink")
}

func (f *File) recoverLocked() error {
	if f.f != nil {
		return nil
	}
	if err := f.open(); err != nil {
		return cserrors.Transient(err, "file sink")
	}
	return nil
}

// HealthCheck implements Sink.
func (f *File) HealthCheck(context.Context) Health {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return HealthDegraded
	}
	if f.f == nil && f.recoverLocked() != nil {
		return HealthDegraded
	}
	return HealthOK
}

// Close implements Sink.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if f.f == nil {
		return nil
	}
	flushErr := f.buf.Flush()
	if flushErr == nil {
		f.committed = f.mark.last
	}
	closeErr := f.f.Close()
	f.f = nil
	return errors.Join(flushErr, closeErr)
}
