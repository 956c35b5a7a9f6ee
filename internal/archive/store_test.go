package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestStore_ArchiveExport(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	at := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)

	key, err := store.ArchiveExport(context.Background(), Record{
		ConversationID: "42",
		ExportedAt:     at,
		Status:         "lead-captured",
		MessageCount:   3,
		Body:           []byte(`{"conversation":{"id":"42"}}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "exports/v1/by-date/2026/02/12/42-1770908400.json", key)
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.JSONEq(t, `{"conversation":{"id":"42"}}`, string(mock.putCalls[0].body))

	manifest := string(mock.objects["exports/v1/manifests/2026-02.jsonl"])
	assert.Contains(t, manifest, `"conversation_id":"42"`)
	assert.Contains(t, manifest, `"status":"lead-captured"`)
}

func TestStore_ManifestAppends(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "b", nil)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"1", "2"} {
		_, err := store.ArchiveExport(context.Background(), Record{ConversationID: id, ExportedAt: at, Body: []byte(`{}`)})
		require.NoError(t, err)
	}

	lines := strings.Split(strings.TrimSpace(string(mock.objects["exports/v1/manifests/2026-03.jsonl"])), "\n")
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureDoesNotFailExport(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "b", nil)

	key, err := store.ArchiveExport(context.Background(), Record{ConversationID: "9", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Len(t, mock.putCalls, 1)
}

func TestStore_DisabledIsNoop(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "", nil)

	assert.False(t, store.Enabled())
	key, err := store.ArchiveExport(context.Background(), Record{ConversationID: "1"})
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, mock.putCalls)

	var nilStore *Store
	assert.False(t, nilStore.Enabled())
}

func TestStore_RequiresConversationID(t *testing.T) {
	store := NewStore(newMockS3(), "b", nil)
	_, err := store.ArchiveExport(context.Background(), Record{})
	assert.Error(t, err)
}
