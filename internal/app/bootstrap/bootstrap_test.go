package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dashboard-sync/internal/config"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	logger := logging.New("error")
	ctx := context.Background()

	assert.Nil(t, BuildRedisClient(ctx, nil, logger, false))
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{RedisAddr: addr}, logger, true))
}

func TestBuildNotesStore(t *testing.T) {
	ctx := context.Background()
	logger := logging.New("error")

	t.Run("memory", func(t *testing.T) {
		store, err := BuildNotesStore(ctx, &appconfig.Config{NotesBackend: "memory"}, nil, logger)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, "1", "hello"))
		assert.Equal(t, "hello", store.Get("1"))
	})

	t.Run("badger reopens", func(t *testing.T) {
		cfg := &appconfig.Config{NotesBackend: "badger", NotesPath: t.TempDir()}
		store, err := BuildNotesStore(ctx, cfg, nil, logger)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, "7", "vip"))
		require.NoError(t, store.Close())

		store, err = BuildNotesStore(ctx, cfg, nil, logger)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "vip", store.Get("7"))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &appconfig.Config{NotesBackend: "redis", RedisAddr: mr.Addr()}
		client := BuildRedisClient(ctx, cfg, logger, true)
		require.NotNil(t, client)
		defer client.Close()

		store, err := BuildNotesStore(ctx, cfg, client, logger)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, "9", "shared"))
		assert.True(t, mr.Exists("dashsync:annotations"))
	})

	t.Run("redis without client", func(t *testing.T) {
		_, err := BuildNotesStore(ctx, &appconfig.Config{NotesBackend: "redis"}, nil, logger)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := BuildNotesStore(ctx, &appconfig.Config{NotesBackend: "sqlite"}, nil, logger)
		assert.ErrorContains(t, err, "sqlite")
	})
}
