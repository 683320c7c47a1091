package s3

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	pages   []*awss3.ListObjectsV2Output
	inputs  []*awss3.ListObjectsV2Input
	listErr error

	putInput *awss3.PutObjectInput
	putBody  []byte
	putErr   error
}

func (f *fakeClient) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.inputs = append(f.inputs, in)
	if f.listErr != nil {
		return nil, f.listErr
	}
	page := f.pages[len(f.inputs)-1]
	return page, nil
}

func (f *fakeClient) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putInput = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.putBody = body
	return &awss3.PutObjectOutput{}, nil
}

func TestStore_ListFollowsContinuationTokens(t *testing.T) {
	modified := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{pages: []*awss3.ListObjectsV2Output{
		{
			Contents:              []types.Object{{Key: aws.String("raw/courtside/games/A.json"), Size: aws.Int64(10), LastModified: aws.Time(modified)}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("page-2"),
		},
		{
			Contents:    []types.Object{{Key: aws.String("raw/courtside/games/B.json"), Size: aws.Int64(20)}},
			IsTruncated: aws.Bool(false),
		},
	}}
	store := NewWithClient(client, "harvest", 2)

	objects, err := store.List(context.Background(), "raw/courtside/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "raw/courtside/games/A.json", objects[0].Key)
	assert.Equal(t, int64(10), objects[0].Size)
	assert.Equal(t, modified, objects[0].LastModified)
	assert.Equal(t, "raw/courtside/games/B.json", objects[1].Key)

	require.Len(t, client.inputs, 2)
	assert.Equal(t, "raw/courtside/", aws.ToString(client.inputs[0].Prefix))
	assert.Equal(t, int32(2), aws.ToInt32(client.inputs[0].MaxKeys))
	assert.Equal(t, "page-2", aws.ToString(client.inputs[1].ContinuationToken))
}

func TestStore_ListWrapsAPIErrors(t *testing.T) {
	client := &fakeClient{listErr: &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}}
	store := NewWithClient(client, "harvest", 0)

	_, err := store.List(context.Background(), "raw/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchBucket")

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestStore_Put(t *testing.T) {
	client := &fakeClient{}
	store := NewWithClient(client, "harvest", 0)

	require.NoError(t, store.Put(context.Background(), "raw/courtside/games/A.json", []byte(`{"a":1}`), "application/json"))
	assert.Equal(t, "harvest", aws.ToString(client.putInput.Bucket))
	assert.Equal(t, "raw/courtside/games/A.json", aws.ToString(client.putInput.Key))
	assert.Equal(t, "application/json", aws.ToString(client.putInput.ContentType))
	assert.Equal(t, int64(7), aws.ToInt64(client.putInput.ContentLength))
	assert.Equal(t, `{"a":1}`, string(client.putBody))

	client.putErr = errors.New("connection reset")
	err := store.Put(context.Background(), "k", nil, "application/json")
	assert.ErrorContains(t, err, "connection reset")
}
