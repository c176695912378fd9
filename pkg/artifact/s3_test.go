package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey", msg: "no such key"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_PutGet(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "edna-models", "v1")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "taxonomy/reference_db.json", []byte(`{}`)))
	assert.Contains(t, mock.objects, "v1/taxonomy/reference_db.json")

	got, err := store.Get(ctx, "taxonomy/reference_db.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), got)
}

func TestS3Store_NotFound(t *testing.T) {
	store := NewS3(newMockS3(), "edna-models", "")
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_OtherErrorsPassThrough(t *testing.T) {
	mock := newMockS3()
	mock.getErr = &apiError{code: "AccessDenied", msg: "denied"}
	mock.putErr = errors.New("connection refused")
	store := NewS3(mock, "edna-models", "")

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = store.Put(context.Background(), "k", []byte("x"))
	assert.ErrorContains(t, err, "connection refused")
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(&apiError{code: "NotFound"}))
	assert.True(t, isS3NotFound(&apiError{code: "NoSuchKey"}))
	assert.False(t, isS3NotFound(&apiError{code: "AccessDenied"}))
	assert.False(t, isS3NotFound(errors.New("plain")))
}
