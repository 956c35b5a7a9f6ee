package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dashboard-sync/internal/annotations"
	appconfig "github.com/wolfman30/dashboard-sync/internal/config"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// BuildNotesStore opens the annotation store on the configured backend:
// badger on local disk (default), a shared redis key, or process memory.
func BuildNotesStore(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (*annotations.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var (
		backend annotations.Backend
		err     error
	)
	switch cfg.NotesBackend {
	case "", "badger":
		backend, err = annotations.OpenBadger(cfg.NotesPath)
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: notes backend redis needs REDIS_ADDR")
		}
		backend, err = annotations.NewRedisBackend(redisClient, "")
	case "memory":
		backend = annotations.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("bootstrap: unknown notes backend %q", cfg.NotesBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open notes backend %s: %w", cfg.NotesBackend, err)
	}

	store, err := annotations.Open(ctx, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	logger.Info("notes store ready", "backend", cfg.NotesBackend, "notes", len(store.All()))
	return store, nil
}
