package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/dashboard-sync/internal/observability/metrics"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

var (
	// ErrClosed is returned once the scheduler has been shut down.
	ErrClosed = errors.New("cache: scheduler closed")
	// ErrFetchTimeout marks an in-flight fetch abandoned after the fetch timeout.
	ErrFetchTimeout = errors.New("cache: fetch timed out")
)

// Scheduler owns the resource cache: it decides when a key needs a
// revalidation fetch, coalesces concurrent fetches per key and keeps mounted
// keys polled. Construct one per session; there is no package-level instance.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	mounts  map[string]map[uint64]*Subscription
	nextSub uint64
	closed  bool

	group        singleflight.Group
	flights      uint64
	clock        func() time.Time
	fetchTimeout time.Duration
	onError      func(key string, err error)
	logger       *logging.Logger
	metrics      *metrics.CacheMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock swaps the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithFetchTimeout bounds every fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.fetchTimeout = d
		}
	}
}

// WithErrorHandler registers a callback invoked after every failed fetch.
func WithErrorHandler(fn func(key string, err error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CacheMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		entries:      make(map[string]*entry),
		mounts:       make(map[string]map[uint64]*Subscription),
		clock:        time.Now,
		fetchTimeout: 15 * time.Second,
		logger:       logging.Default(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cache")
	return s
}

// Resolve returns the value for key. A fresh entry is served from memory, a
// stale one is served immediately while a background revalidation runs, and a
// missing one is fetched. Concurrent callers for the same key share a single
// in-flight fetch.
func (s *Scheduler) Resolve(ctx context.Context, key string, fetch Fetcher, opts Options) (Result, error) {
	if fetch == nil {
		return Result{}, fmt.Errorf("cache: no fetcher for %s", key)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrClosed
	}
	now := s.clock()
	e := s.entryLocked(key, opts)
	e.fetcher = fetch
	s.abandonHungLocked(e, now)

	switch {
	case !e.hasValue && e.inFlight:
		ch := s.joinLocked(e)
		s.mu.Unlock()
		s.metrics.ObserveResolve(resourceOf(key), "coalesced")
		return s.wait(ctx, key, ch)
	case !e.hasValue:
		ch := s.startLocked(e, now)
		s.mu.Unlock()
		s.metrics.ObserveResolve(resourceOf(key), "miss")
		return s.wait(ctx, key, ch)
	case e.fresh(now):
		res := e.result(now)
		s.mu.Unlock()
		s.metrics.ObserveResolve(resourceOf(key), "hit")
		return res, nil
	default:
		if !e.inFlight {
			s.startLocked(e, now)
		}
		res := e.result(now)
		s.mu.Unlock()
		s.metrics.ObserveResolve(resourceOf(key), "stale")
		return res, nil
	}
}

// ResolveAs is Resolve with a typed fetcher and value.
func ResolveAs[T any](ctx context.Context, s *Scheduler, key string, fetch func(context.Context) (T, error), opts Options) (T, Result, error) {
	var zero T
	res, err := s.Resolve(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts)
	if res.Value == nil {
		return zero, res, err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, res, fmt.Errorf("cache: %s holds %T, not %T", key, res.Value, zero)
	}
	return v, res, err
}

// Peek returns a snapshot of key without fetching.
func (s *Scheduler) Peek(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(s.clock()), true
}

// Invalidate marks every entry whose key starts with prefix as stale and
// revalidates the ones currently mounted. It returns the number of entries
// marked.
func (s *Scheduler) Invalidate(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	now := s.clock()
	marked := 0
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		e.invalidated = true
		marked++
		if len(s.mounts[key]) > 0 && !e.inFlight && e.fetcher != nil {
			s.startLocked(e, now)
		}
	}
	if marked > 0 {
		s.logger.Debug("cache entries invalidated", "prefix", prefix, "count", marked)
	}
	return marked
}

// Refocus revalidates every mounted key that is no longer fresh, mirroring a
// viewport regaining focus. It returns how many fetches were started.
func (s *Scheduler) Refocus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	now := s.clock()
	started := 0
	for key, subs := range s.mounts {
		if len(subs) == 0 {
			continue
		}
		e, ok := s.entries[key]
		if !ok || e.inFlight || e.fresh(now) || e.fetcher == nil {
			continue
		}
		s.startLocked(e, now)
		started++
	}
	return started
}

// Reset drops every entry. Results of fetches still in flight are discarded
// on arrival. Mounted subscriptions stay mounted and refill on their next tick.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
	s.logger.Info("cache reset", "dropped_entries", n)
}

// Close stops every subscription and waits for background fetches to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var subs []*Subscription
	for _, byID := range s.mounts {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) entryLocked(key string, opts Options) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{key: key}
		s.entries[key] = e
	}
	e.ttl = opts.TTL
	e.refreshInterval = opts.RefreshInterval
	return e
}

// abandonHungLocked gives up on a fetch that outlived the fetch timeout so the
// key can be revalidated again. A late response is discarded by flight id.
func (s *Scheduler) abandonHungLocked(e *entry, now time.Time) {
	if !e.inFlight || s.fetchTimeout <= 0 || now.Sub(e.startedAt) < s.fetchTimeout {
		return
	}
	e.inFlight = false
	e.generation++
	e.flightID = 0
	e.err = ErrFetchTimeout
	s.logger.Warn("abandoning hung fetch", "key", e.key, "started_at", e.startedAt)
}

// startLocked launches a fetch for e. Flight ids come from a scheduler-wide
// counter, so an entry recreated after Reset never reuses the key of a fetch
// that is still running and every DoChan here runs its own closure.
func (s *Scheduler) startLocked(e *entry, now time.Time) <-chan singleflight.Result {
	s.flights++
	id := s.flights
	e.generation++
	e.flightID = id
	e.inFlight = true
	e.startedAt = now
	e.flight = e.key + "#" + strconv.FormatUint(id, 10)
	key, fetch := e.key, e.fetcher

	s.wg.Add(1)
	return s.group.DoChan(e.flight, func() (any, error) {
		defer s.wg.Done()
		return s.run(key, id, fetch)
	})
}

// joinLocked attaches to the fetch already running for e. While e.inFlight is
// set under s.mu the singleflight call is still registered, because run only
// returns after complete has cleared the flag.
func (s *Scheduler) joinLocked(e *entry) <-chan singleflight.Result {
	return s.group.DoChan(e.flight, func() (any, error) {
		return nil, fmt.Errorf("cache: flight for %s already finished", e.key)
	})
}

func (s *Scheduler) run(key string, id uint64, fetch Fetcher) (any, error) {
	ctx, cancel := s.fetchContext()
	defer cancel()

	start := time.Now()
	v, err := fetch(ctx)
	s.metrics.ObserveFetch(resourceOf(key), err, time.Since(start).Seconds())
	s.complete(key, id, v, err)
	return v, err
}

func (s *Scheduler) fetchContext() (context.Context, context.CancelFunc) {
	if s.fetchTimeout > 0 {
		return context.WithTimeout(s.ctx, s.fetchTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Scheduler) complete(key string, id uint64, v any, err error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || !e.inFlight || e.flightID != id {
		s.mu.Unlock()
		s.metrics.ObserveDiscard(resourceOf(key))
		s.logger.Debug("discarding superseded fetch result", "key", key, "flight", id)
		return
	}
	now := s.clock()
	e.inFlight = false
	e.startedAt = time.Time{}
	if err != nil {
		e.err = err
	} else {
		e.value = v
		e.hasValue = true
		e.fetchedAt = now
		e.invalidated = false
		e.err = nil
	}
	res := e.result(now)
	listeners := s.listenersLocked(key)
	onError := s.onError
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("fetch failed", "key", key, "error", err, "serving_last_good", res.Value != nil)
		if onError != nil {
			onError(key, err)
		}
	}
	for _, sub := range listeners {
		sub.notify(res)
	}
}

func (s *Scheduler) wait(ctx context.Context, key string, ch <-chan singleflight.Result) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r = <-ch:
	}

	s.mu.Lock()
	var res Result
	hasValue := false
	if e, ok := s.entries[key]; ok && e.hasValue {
		res = e.result(s.clock())
		hasValue = true
	}
	s.mu.Unlock()

	if r.Err != nil {
		res.Err = r.Err
		if !hasValue {
			return res, r.Err
		}
		return res, nil
	}
	if !hasValue {
		// The entry was reset while we waited; hand back what was fetched.
		return Result{Value: r.Val, FetchedAt: s.clock()}, nil
	}
	return res, nil
}

func (s *Scheduler) listenersLocked(key string) []*Subscription {
	subs := s.mounts[key]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}
