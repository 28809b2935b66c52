package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the bucket parts are uploaded to.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack). Setting
	// it switches to path-style addressing.
	Endpoint string
}

// S3API is the subset of *s3.Client S3Uploader uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads parts with PutObject.
type S3Uploader struct {
	client S3API
	bucket string
}

// NewS3Uploader loads the default AWS credential chain and builds a client.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3UploaderWithClient(client, cfg.Bucket), nil
}

// NewS3UploaderWithClient wraps an existing client.
func NewS3UploaderWithClient(client S3API, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// Close implements Uploader. The S3 client holds no resources.
func (u *S3Uploader) Close() error { return nil }
