package annotations

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultRedisKey = "dashsync:annotations"

// RedisBackend keeps the blob under one redis key, for agents that share a
// device profile. The client is owned by the caller.
type RedisBackend struct {
	client *redis.Client
	key    string
	tracer trace.Tracer
}

func NewRedisBackend(client *redis.Client, key string) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("annotations: redis client required")
	}
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisBackend{
		client: client,
		key:    key,
		tracer: otel.Tracer("dashsync.internal.annotations.redis"),
	}, nil
}

func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	ctx, span := b.tracer.Start(ctx, "annotations.redis.load")
	defer span.End()

	blob, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("annotations: redis get: %w", err)
	}
	return blob, nil
}

func (b *RedisBackend) Save(ctx context.Context, blob []byte) error {
	ctx, span := b.tracer.Start(ctx, "annotations.redis.save")
	defer span.End()

	if err := b.client.Set(ctx, b.key, blob, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("annotations: redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error { return nil }
