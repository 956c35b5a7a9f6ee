package annotations

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend holds the blob in process memory. Notes do not survive a
// restart.
type MemoryBackend struct {
	mu   sync.Mutex
	blob []byte
	err  error
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.blob), nil
}

func (m *MemoryBackend) Save(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.blob = slices.Clone(blob)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
