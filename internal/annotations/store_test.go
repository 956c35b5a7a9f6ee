package annotations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dashboard-sync/internal/cache"
)

func TestNoteSurvivesReloadAndInvalidations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := OpenBadger(dir)
	require.NoError(t, err)
	store, err := Open(ctx, backend, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "42", "note"))

	sched := cache.New()
	defer sched.Close()
	fetch := func(context.Context) (any, error) { return "page", nil }
	_, err = sched.Resolve(ctx, "conversation/42", fetch, cache.Options{TTL: time.Hour})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		sched.Invalidate("conversation")
	}
	sched.Reset()

	require.NoError(t, store.Close())

	backend, err = OpenBadger(dir)
	require.NoError(t, err)
	reloaded, err := Open(ctx, backend, nil)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.Equal(t, "note", reloaded.Get("42"))
}

func TestSetEmptyTextClearsNote(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	store, err := Open(ctx, mem, nil)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "7", "call back Friday"))
	require.NoError(t, store.Set(ctx, "8", "vip"))
	require.NoError(t, store.Set(ctx, "7", ""))

	assert.Equal(t, "", store.Get("7"))
	assert.Equal(t, map[string]string{"8": "vip"}, store.All())

	reloaded, err := Open(ctx, mem, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"8": "vip"}, reloaded.All())
}

func TestSetRequiresID(t *testing.T) {
	store, err := Open(context.Background(), NewMemoryBackend(), nil)
	require.NoError(t, err)
	assert.Error(t, store.Set(context.Background(), "  ", "text"))
}

func TestCorruptBlobIsTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	require.NoError(t, mem.Save(ctx, []byte("{not json")))

	store, err := Open(ctx, mem, nil)
	require.NoError(t, err)
	assert.Empty(t, store.All())

	require.NoError(t, store.Set(ctx, "1", "fresh start"))
	assert.Equal(t, "fresh start", store.Get("1"))
}

func TestFailedSaveKeepsInMemoryValue(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	store, err := Open(ctx, mem, nil)
	require.NoError(t, err)

	mem.err = errors.New("disk full")
	err = store.Set(ctx, "3", "draft")
	require.Error(t, err)
	assert.Equal(t, "draft", store.Get("3"))
}

func TestAllReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, NewMemoryBackend(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "1", "a"))

	all := store.All()
	all["1"] = "tampered"
	assert.Equal(t, "a", store.Get("1"))
}

func TestBadgerInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer backend.Close()

	blob, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, backend.Save(ctx, []byte(`{"1":"x"}`)))
	blob, err = backend.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":"x"}`, string(blob))
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backend, err := NewRedisBackend(client, "")
	require.NoError(t, err)

	store, err := Open(ctx, backend, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "42", "note"))

	raw, err := mr.Get(defaultRedisKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"42":"note"}`, raw)

	reloaded, err := Open(ctx, backend, nil)
	require.NoError(t, err)
	assert.Equal(t, "note", reloaded.Get("42"))

	require.NoError(t, mr.Set(defaultRedisKey, "garbage"))
	corrupted, err := Open(ctx, backend, nil)
	require.NoError(t, err)
	assert.Empty(t, corrupted.All())
}

func TestRedisBackendLoadError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	backend, err := NewRedisBackend(client, "notes")
	require.NoError(t, err)

	mr.Close()
	_, err = Open(context.Background(), backend, nil)
	assert.Error(t, err)

	_, err = NewRedisBackend(nil, "")
	assert.Error(t, err)
}
