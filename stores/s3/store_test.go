package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aa "github.com/panyam/authadapters"
	"github.com/panyam/authadapters/adaptertest"
	"github.com/panyam/authadapters/kv"
)

// fakeS3 keeps objects in memory and answers like S3 does for missing keys.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3AdapterWithFakeClient(t *testing.T) {
	s := New(newFakeS3(), "auth", "tenant-a/")
	adaptertest.RunBasicTests(t, adaptertest.Options{
		Adapter:           kv.New(s),
		DB:                adaptertest.KVDB{Store: s},
		SkipConcurrentUse: true,
	})
}

func TestObjectNames(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := New(fake, "auth", "tenant-a/")
	require.NoError(t, s.Set(ctx, "user:u1", []byte(`{}`)))

	assert.Contains(t, fake.objects, "auth/tenant-a/user:u1")
	_, err := s.Get(ctx, "user:u2")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestS3ErrorsAreBackendErrors(t *testing.T) {
	fake := newFakeS3()
	fake.fail = errors.New("access denied")
	_, err := kv.New(New(fake, "auth", "")).GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, aa.ErrBackend)
}

// TestS3Adapter runs against a real endpoint, e.g. MinIO:
//
//	S3_TEST_ENDPOINT=http://localhost:9000 S3_TEST_BUCKET=auth \
//	S3_TEST_ACCESS_KEY=minioadmin S3_TEST_SECRET_KEY=minioadmin go test ./stores/s3
func TestS3Adapter(t *testing.T) {
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, ClientConfig{
		Region:    "us-east-1",
		Endpoint:  endpoint,
		AccessKey: os.Getenv("S3_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_TEST_SECRET_KEY"),
		PathStyle: true,
	})
	require.NoError(t, err)

	s := New(client, os.Getenv("S3_TEST_BUCKET"), "test-"+uuid.NewString()+"/")
	adaptertest.RunBasicTests(t, adaptertest.Options{
		Adapter:           kv.New(s),
		DB:                adaptertest.KVDB{Store: s},
		SkipConcurrentUse: true,
	})
}
