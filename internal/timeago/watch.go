package timeago

import (
	"context"
	"time"
)

// Clock abstracts time for Watch.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Watch emits the label for ts immediately and again after every tick until
// ctx is done. The tick period is picked from the age bucket each time the
// timer is re-armed, so a label crossing a bucket boundary adopts the new
// cadence on its next tick. A nil ts emits Unknown once and returns.
func Watch(ctx context.Context, ts *time.Time, clock Clock, emit func(string)) {
	if clock == nil {
		clock = SystemClock
	}
	if ts == nil || ts.IsZero() {
		emit(Unknown)
		return
	}
	for {
		now := clock.Now()
		emit(Format(*ts, now))
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-clock.After(RefreshInterval(now.Sub(*ts))):
		}
	}
}
