package minio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	objects  []minio.ObjectInfo
	listOpts minio.ListObjectsOptions

	putKey  string
	putBody []byte
	putOpts minio.PutObjectOptions
	putErr  error
}

func (f *fakeClient) PutObject(_ context.Context, _, objectName string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.putKey, f.putBody, f.putOpts = objectName, body, opts
	return minio.UploadInfo{Key: objectName, Size: int64(len(body))}, nil
}

func (f *fakeClient) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.listOpts = opts
	ch := make(chan minio.ObjectInfo, len(f.objects))
	for _, obj := range f.objects {
		ch <- obj
	}
	close(ch)
	return ch
}

func TestStore_List(t *testing.T) {
	modified := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{objects: []minio.ObjectInfo{
		{Key: "raw/hoopsref/", Size: 0},
		{Key: "raw/hoopsref/boxscores/A.json", Size: 12, LastModified: modified},
	}}
	store := NewWithClient(client, "harvest")

	objects, err := store.List(context.Background(), "raw/hoopsref/")
	require.NoError(t, err)
	require.Len(t, objects, 1, "folder markers are skipped")
	assert.Equal(t, "raw/hoopsref/boxscores/A.json", objects[0].Key)
	assert.Equal(t, int64(12), objects[0].Size)
	assert.Equal(t, modified, objects[0].LastModified)
	assert.True(t, client.listOpts.Recursive)
	assert.Equal(t, "raw/hoopsref/", client.listOpts.Prefix)
}

func TestStore_ListStopsOnError(t *testing.T) {
	client := &fakeClient{objects: []minio.ObjectInfo{
		{Key: "raw/hoopsref/A.json"},
		{Err: errors.New("access denied")},
	}}
	_, err := NewWithClient(client, "harvest").List(context.Background(), "raw/")
	assert.ErrorContains(t, err, "access denied")
}

func TestStore_Put(t *testing.T) {
	client := &fakeClient{}
	store := NewWithClient(client, "harvest")

	require.NoError(t, store.Put(context.Background(), "raw/hoopsref/A.json", []byte(`{}`), "application/json"))
	assert.Equal(t, "raw/hoopsref/A.json", client.putKey)
	assert.Equal(t, "{}", string(client.putBody))
	assert.Equal(t, "application/json", client.putOpts.ContentType)

	client.putErr = errors.New("timeout")
	assert.Error(t, store.Put(context.Background(), "raw/x.json", nil, "application/json"))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
