// Package annotations keeps device-local conversation notes. It is
// deliberately separate from the resource cache: nothing that refreshes or
// invalidates remote state can reach it.
package annotations

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// Backend persists the whole note map as one blob.
type Backend interface {
	// Load returns the stored blob, or nil when nothing has been stored yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Close() error
}

// Store is the in-memory note map plus its write-through backend.
type Store struct {
	mu      sync.RWMutex
	notes   map[string]string
	backend Backend
	logger  *logging.Logger
}

// Open loads the blob once. A blob that does not parse is logged and treated
// as no notes; only a backend read failure is returned.
func Open(ctx context.Context, backend Backend, logger *logging.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("annotations: backend required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		notes:   make(map[string]string),
		backend: backend,
		logger:  logger.With("component", "annotations"),
	}

	blob, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("annotations: load: %w", err)
	}
	if len(blob) == 0 {
		return s, nil
	}
	var stored map[string]string
	if err := json.Unmarshal(blob, &stored); err != nil {
		s.logger.Warn("discarding unreadable annotations blob", "error", err, "bytes", len(blob))
		return s, nil
	}
	for id, text := range stored {
		if id != "" && text != "" {
			s.notes[id] = text
		}
	}
	s.logger.Debug("annotations loaded", "count", len(s.notes))
	return s, nil
}

// Get returns the note for id, or "" when there is none.
func (s *Store) Get(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notes[id]
}

// Set stores text for id and writes the whole map back before returning.
// Empty text clears the note. The in-memory value is updated even if the
// write fails; the error tells the caller the note may not survive a reload.
func (s *Store) Set(ctx context.Context, id, text string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("annotations: conversation id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.notes, id)
	} else {
		s.notes[id] = text
	}

	blob, err := json.Marshal(s.notes)
	if err != nil {
		return fmt.Errorf("annotations: marshal: %w", err)
	}
	if err := s.backend.Save(ctx, blob); err != nil {
		s.logger.Error("failed to persist annotation", "conversation_id", id, "error", err)
		return fmt.Errorf("annotations: save: %w", err)
	}
	return nil
}

// All returns a copy of every note.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.notes)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
