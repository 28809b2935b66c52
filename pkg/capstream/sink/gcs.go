package sink

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig locates the bucket parts are uploaded to.
type GCSConfig struct {
	Bucket string
	// Endpoint points at an emulator. Setting it disables authentication.
	Endpoint string
}

// objectWriterFunc opens a writer for one object.
type objectWriterFunc func(ctx context.Context, key, contentType string) io.WriteCloser

// GCSUploader uploads parts to Google Cloud Storage.
type GCSUploader struct {
	client *storage.Client
	open   objectWriterFunc
}

// NewGCSUploader creates a client using application default credentials.
func NewGCSUploader(ctx context.Context, cfg GCSConfig) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)
	return &GCSUploader{
		client: client,
		open: func(ctx context.Context, key, contentType string) io.WriteCloser {
			w := bucket.Object(key).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
	}, nil
}

// Upload implements Uploader. The object is committed by the writer's Close.
func (u *GCSUploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	w := u.open(ctx, key, contentType)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

// Close implements Uploader.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}
