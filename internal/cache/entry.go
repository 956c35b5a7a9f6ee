package cache

import (
	"context"
	"strings"
	"time"
)

// State is the lifecycle position of a cache entry.
type State int

const (
	StateEmpty State = iota
	StateFetching
	StateFresh
	StateStale
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "empty"
	}
}

// Fetcher loads the current value of one resource key.
type Fetcher func(ctx context.Context) (any, error)

// Options controls freshness and polling for a key. A zero RefreshInterval
// disables polling for subscriptions on that key.
type Options struct {
	TTL             time.Duration
	RefreshInterval time.Duration
}

// Result is what Resolve hands back to callers. Err carries the most recent
// fetch failure even when a last-known-good Value is being served.
type Result struct {
	Value     any
	FetchedAt time.Time
	Stale     bool
	Err       error
}

// Entry is a read-only snapshot of one cache entry.
type Entry struct {
	Key             string
	Value           any
	HasValue        bool
	FetchedAt       time.Time
	TTL             time.Duration
	RefreshInterval time.Duration
	InFlight        bool
	Err             error
	Generation      uint64
	State           State
}

type entry struct {
	key             string
	value           any
	hasValue        bool
	fetchedAt       time.Time
	ttl             time.Duration
	refreshInterval time.Duration
	inFlight        bool
	invalidated     bool
	err             error
	generation      uint64
	startedAt       time.Time
	flight          string
	flightID        uint64
	fetcher         Fetcher
}

func (e *entry) fresh(now time.Time) bool {
	return e.hasValue && !e.invalidated && now.Sub(e.fetchedAt) < e.ttl
}

func (e *entry) state(now time.Time) State {
	switch {
	case e.inFlight:
		return StateFetching
	case !e.hasValue:
		return StateEmpty
	case e.fresh(now):
		return StateFresh
	default:
		return StateStale
	}
}

func (e *entry) result(now time.Time) Result {
	return Result{
		Value:     e.value,
		FetchedAt: e.fetchedAt,
		Stale:     e.hasValue && !e.fresh(now),
		Err:       e.err,
	}
}

func (e *entry) snapshot(now time.Time) Entry {
	return Entry{
		Key:             e.key,
		Value:           e.value,
		HasValue:        e.hasValue,
		FetchedAt:       e.fetchedAt,
		TTL:             e.ttl,
		RefreshInterval: e.refreshInterval,
		InFlight:        e.inFlight,
		Err:             e.err,
		Generation:      e.generation,
		State:           e.state(now),
	}
}

// resourceOf trims a cache key down to its resource name for metric labels.
func resourceOf(key string) string {
	if i := strings.IndexAny(key, "?/"); i >= 0 {
		return key[:i]
	}
	return key
}
