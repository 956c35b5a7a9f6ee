package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedStore records event ids that were already applied.
type ProcessedStore interface {
	// MarkProcessed returns false if id was seen before.
	MarkProcessed(ctx context.Context, id string) (bool, error)
}

// MemoryProcessedStore remembers the most recent ids in a fixed-size ring.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func NewMemoryProcessedStore(capacity int) *MemoryProcessedStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryProcessedStore{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (m *MemoryProcessedStore) MarkProcessed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	if old := m.ring[m.next]; old != "" {
		delete(m.seen, old)
	}
	m.ring[m.next] = id
	m.next = (m.next + 1) % len(m.ring)
	m.seen[id] = struct{}{}
	return true, nil
}

// RedisProcessedStore shares seen ids between agents with SETNX and a TTL.
type RedisProcessedStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisProcessedStore(client *redis.Client, ttl time.Duration) (*RedisProcessedStore, error) {
	if client == nil {
		return nil, errors.New("events: redis client required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProcessedStore{client: client, prefix: "dashsync:events:processed:", ttl: ttl}, nil
}

func (r *RedisProcessedStore) MarkProcessed(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+id, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: redis setnx: %w", err)
	}
	return ok, nil
}
