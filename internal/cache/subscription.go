package cache

import (
	"sync"
	"time"
)

// Subscription mounts a key: it keeps the key polled at its refresh interval,
// makes it eligible for Refocus and Invalidate revalidation, and delivers
// every completed fetch to onUpdate. Call Unsubscribe when the view goes away.
type Subscription struct {
	id       uint64
	key      string
	fetch    Fetcher
	opts     Options
	onUpdate func(Result)
	s        *Scheduler

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

// Subscribe mounts key. If a value is already cached it is delivered right
// away; otherwise a fetch starts and its completion is delivered.
func (s *Scheduler) Subscribe(key string, fetch Fetcher, opts Options, onUpdate func(Result)) *Subscription {
	sub := &Subscription{
		key:      key,
		fetch:    fetch,
		opts:     opts,
		onUpdate: onUpdate,
		s:        s,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed || fetch == nil {
		s.mu.Unlock()
		// Never mounted: consume once so Unsubscribe is a no-op.
		sub.once.Do(func() {})
		sub.stopped = true
		close(sub.stop)
		close(sub.done)
		return sub
	}
	s.nextSub++
	sub.id = s.nextSub
	if s.mounts[key] == nil {
		s.mounts[key] = make(map[uint64]*Subscription)
	}
	s.mounts[key][sub.id] = sub
	s.mu.Unlock()

	s.metrics.SubscriptionMounted()
	go sub.loop()
	return sub
}

// Key returns the mounted key.
func (sub *Subscription) Key() string { return sub.key }

// Done is closed once the polling loop has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Unsubscribe unmounts the key. No tick fires after it returns. It is safe to
// call more than once and from inside onUpdate.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.mu.Unlock()

		s := sub.s
		s.mu.Lock()
		if byID, ok := s.mounts[sub.key]; ok {
			delete(byID, sub.id)
			if len(byID) == 0 {
				delete(s.mounts, sub.key)
			}
		}
		s.mu.Unlock()

		close(sub.stop)
		s.metrics.SubscriptionReleased()
	})
}

func (sub *Subscription) loop() {
	defer close(sub.done)

	sub.revalidate(true)

	if sub.opts.RefreshInterval <= 0 {
		<-sub.stop
		return
	}
	ticker := time.NewTicker(sub.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			sub.revalidate(false)
		}
	}
}

// revalidate runs on mount (initial) and on every tick. On mount a cached
// value is delivered immediately and only a non-fresh one is refetched; a tick
// always refetches unless a fetch for the key is already in flight.
func (sub *Subscription) revalidate(initial bool) {
	s := sub.s
	s.mu.Lock()
	if s.closed || sub.isStopped() {
		s.mu.Unlock()
		return
	}
	now := s.clock()
	e := s.entryLocked(sub.key, sub.opts)
	e.fetcher = sub.fetch
	s.abandonHungLocked(e, now)

	var immediate *Result
	if initial && e.hasValue {
		res := e.result(now)
		immediate = &res
	}
	if !e.inFlight && (!initial || !e.fresh(now)) {
		s.startLocked(e, now)
	}
	s.mu.Unlock()

	if immediate != nil {
		sub.notify(*immediate)
	}
}

func (sub *Subscription) isStopped() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.stopped
}

func (sub *Subscription) notify(res Result) {
	if sub.onUpdate == nil || sub.isStopped() {
		return
	}
	sub.onUpdate(res)
}
