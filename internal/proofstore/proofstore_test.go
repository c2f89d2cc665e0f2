package proofstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts map[string]*s3.PutObjectInput
	body map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{puts: map[string]*s3.PutObjectInput{}, body: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.puts[key] = in
	f.body[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, ok := f.body[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: f.puts[key].ContentType,
	}, nil
}

func TestS3Store_PutGet(t *testing.T) {
	api := newFakeS3()
	st := NewS3StoreWithClient(api, "medstore-proofs", "")

	ref, err := st.Put(context.Background(), "ord-1", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "payment-proofs/ord-1/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	in := api.puts[ref]
	require.NotNil(t, in)
	assert.Equal(t, "medstore-proofs", aws.ToString(in.Bucket))
	assert.Equal(t, "ord-1", in.Metadata["order-id"])

	data, ct, err := st.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", ct)

	_, _, err = st.Get(context.Background(), "payment-proofs/missing")
	require.Error(t, err)
}

func TestS3Store_KeysAreUnique(t *testing.T) {
	st := NewS3StoreWithClient(newFakeS3(), "b", "proofs/")
	a, err := st.Put(context.Background(), "ord-1", "image/jpeg", []byte("a"))
	require.NoError(t, err)
	b, err := st.Put(context.Background(), "ord-1", "image/jpeg", []byte("a"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "proofs/ord-1/"))
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore()
	ref, err := st.Put(context.Background(), "ord-2", "image/webp", []byte("webp"))
	require.NoError(t, err)

	data, ct, err := st.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "webp", string(data))
	assert.Equal(t, "image/webp", ct)

	_, _, err = st.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
