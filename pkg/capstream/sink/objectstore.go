package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
	cserrors "github.com/randalmurphal/capstream/pkg/capstream/errors"
)

// DefaultPartRecords is how many records go into one uploaded part.
const DefaultPartRecords = 1000

// NDJSONContentType is the content type of uploaded parts.
const NDJSONContentType = "application/x-ndjson"

// Uploader puts one object.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	Close() error
}

// ObjectStoreOptions configures an ObjectStore.
type ObjectStoreOptions struct {
	Prefix      string
	PartRecords int
	Limits      BatchLimits
}

// ObjectStore buffers records and uploads them as numbered parts under
// <prefix>/<session>/part-00000.jsonl, part-00001.jsonl, ... A part is cut
// every PartRecords records and on Flush. A failed upload keeps the
// buffer; the next Write or Flush retries it. Committed reports the last
// record of the last uploaded part.
type ObjectStore struct {
	name     string
	uploader Uploader
	session  string
	opts     ObjectStoreOptions

	mu    sync.Mutex
	buf   bytes.Buffer
	count int
	part  int
	mark  watermark
	// committed is the last ID of the last uploaded part.
	committed string
	closed    bool
}

// NewObjectStore wraps uploader.
func NewObjectStore(name string, uploader Uploader, sessionID string, opts ObjectStoreOptions) *ObjectStore {
	if opts.PartRecords <= 0 {
		opts.PartRecords = DefaultPartRecords
	}
	return &ObjectStore{name: name, uploader: uploader, session: sessionID, opts: opts}
}

// Name implements Sink.
func (o *ObjectStore) Name() string { return o.name }

// BatchLimits implements Batcher.
func (o *ObjectStore) BatchLimits() BatchLimits { return o.opts.Limits }

// PartKey returns the object key of part n.
func (o *ObjectStore) PartKey(n int) string {
	return path.Join(o.opts.Prefix, o.session, fmt.Sprintf("part-%05d.jsonl", n))
}

// Write implements Sink.
func (o *ObjectStore) Write(ctx context.Context, batch []envelope.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	for _, e := range o.mark.fresh(batch) {
		// A full part that failed to upload must go out before it grows.
		if o.count >= o.opts.PartRecords {
			if err := o.uploadLocked(ctx); err != nil {
				return err
			}
		}
		line, err := envelope.MarshalLine(e)
		if err != nil {
			return cserrors.Permanent(fmt.Errorf("encode envelope %s: %w", e.ID, err), "object sink")
		}
		o.buf.Write(line)
		o.count++
		o.mark.accept(e.ID)
	}
	if o.count >= o.opts.PartRecords {
		return o.uploadLocked(ctx)
	}
	return nil
}

func (o *ObjectStore) uploadLocked(ctx context.Context) error {
	if o.count == 0 {
		return nil
	}
	key := o.PartKey(o.part)
	if err := o.uploader.Upload(ctx, key, bytes.Clone(o.buf.Bytes()), NDJSONContentType); err != nil {
		return cserrors.Transient(fmt.Errorf("upload %s: %w", key, err), "object sink")
	}
	o.part++
	o.count = 0
	o.buf.Reset()
	o.committed = o.mark.last
	return nil
}

// Committed implements Committer.
func (o *ObjectStore) Committed() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committed
}

// Flush implements Sink. It uploads the partial part, if any.
func (o *ObjectStore) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	return o.uploadLocked(ctx)
}

// Pending returns the number of buffered, not yet uploaded records.
func (o *ObjectStore) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// HealthCheck implements Sink. A full part still buffered means its
// upload failed.
func (o *ObjectStore) HealthCheck(context.Context) Health {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.count >= o.opts.PartRecords {
		return HealthDegraded
	}
	return HealthOK
}

// Close implements Sink. Buffered records are uploaded first; if that fails
// they are lost and the error is returned.
func (o *ObjectStore) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	uploadErr := o.uploadLocked(context.Background())
	closeErr := o.uploader.Close()
	if uploadErr != nil {
		return uploadErr
	}
	return closeErr
}
