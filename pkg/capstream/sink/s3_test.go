package sink

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Uploader_Upload(t *testing.T) {
	api := &fakeS3{}
	u := NewS3UploaderWithClient(api, "recordings")

	require.NoError(t, u.Upload(context.Background(), "p/s1/part-00000.jsonl", []byte("{}\n"), NDJSONContentType))
	require.NoError(t, u.Close())

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "recordings", aws.ToString(in.Bucket))
	assert.Equal(t, "p/s1/part-00000.jsonl", aws.ToString(in.Key))
	assert.Equal(t, NDJSONContentType, aws.ToString(in.ContentType))
	assert.Equal(t, []byte("{}\n"), api.bodies[0])
}

func TestS3Uploader_Error(t *testing.T) {
	denied := errors.New("access denied")
	u := NewS3UploaderWithClient(&fakeS3{err: denied}, "recordings")

	err := u.Upload(context.Background(), "k", nil, NDJSONContentType)
	assert.ErrorIs(t, err, denied)
	assert.ErrorContains(t, err, "recordings/k")
}

func TestS3Uploader_ThroughObjectStore(t *testing.T) {
	ctx := context.Background()
	api := &fakeS3{}
	o := NewObjectStore("s3", NewS3UploaderWithClient(api, "b"), "s1", ObjectStoreOptions{Prefix: "cs"})

	require.NoError(t, o.Write(ctx, admitted(1, 2)))
	require.NoError(t, o.Close())

	require.Len(t, api.inputs, 1)
	assert.Equal(t, "cs/s1/part-00000.jsonl", aws.ToString(api.inputs[0].Key))
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), S3Config{})
	assert.ErrorContains(t, err, "bucket is required")
}
