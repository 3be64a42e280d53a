package s3

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/robertarktes/rink-registrations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type object struct {
	body []byte
	etag string
}

// fakeBucket honours If-Match and If-None-Match the way S3 does.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]object
	seq     int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string]object)}
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body)), ETag: aws.String(obj.etag)}, nil
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	existing, exists := f.objects[key]
	if in.IfNoneMatch != nil && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
	}
	if in.IfMatch != nil && (!exists || existing.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.seq++
	etag := `"` + strconv.Itoa(f.seq) + `"`
	f.objects[key] = object{body: body, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func TestConditionalWrites(t *testing.T) {
	store := NewRegistrationStore(newFakeBucket(), "rink", "registrations/")
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	rec := domain.NewRegistrationRecord("camp-1", 10, now)
	v1, err := store.Insert(ctx, rec)
	require.NoError(t, err)

	_, err = store.Insert(ctx, rec)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	rec.Registrations = append(rec.Registrations, domain.Registrant{ID: "r1", HoldID: "h1"})
	rec.CurrentRegistrations = 1
	v2, err := store.Replace(ctx, rec, v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = store.Replace(ctx, rec, v1)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	loaded, err := store.Load(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, v2, loaded.Version)
	assert.Equal(t, 1, loaded.Record.CurrentRegistrations)
}

func TestListAndDelete(t *testing.T) {
	bucket := newFakeBucket()
	store := NewRegistrationStore(bucket, "rink", "registrations/")
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range []string{"lesson-2", "camp-1"} {
		_, err := store.Insert(ctx, domain.NewRegistrationRecord(id, 4, now))
		require.NoError(t, err)
	}
	bucket.objects["registrations/notes.txt"] = object{body: []byte("x"), etag: `"x"`}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "camp-1", records[0].EventID)
	assert.Equal(t, "lesson-2", records[1].EventID)

	require.NoError(t, store.Delete(ctx, "camp-1"))
	assert.ErrorIs(t, store.Delete(ctx, "camp-1"), domain.ErrNotFound)
	_, err = store.Load(ctx, "camp-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCorruptRecord(t *testing.T) {
	bucket := newFakeBucket()
	bucket.objects["registrations/bad.json"] = object{body: []byte("{not json"), etag: `"1"`}
	store := NewRegistrationStore(bucket, "rink", "registrations/")

	_, err := store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrCorruptRecord)
}
