package timeline

import (
	"cmp"
	"slices"
)

// Timeline is an ordered, immutable event sequence. The zero value is empty.
type Timeline struct {
	events []Event
}

// Len reports the number of events.
func (t Timeline) Len() int { return len(t.events) }

// At returns the i-th event.
func (t Timeline) At(i int) Event { return t.events[i] }

// Events returns a copy of the sequence.
func (t Timeline) Events() []Event { return slices.Clone(t.events) }

// tieRank orders events sharing a timestamp: lead capture, then fallback,
// then message.
func tieRank(k Kind) int {
	switch k {
	case KindLeadCapture:
		return 0
	case KindFallback:
		return 1
	default:
		return 2
	}
}

// Merge concatenates the three streams, sorts ascending by timestamp and
// drops exact (kind, timestamp, id) duplicates. Among duplicates the one that
// sorts first survives, so the result does not depend on input order.
func Merge(messages []MessageEvent, fallbacks []FallbackEvent, leads []LeadCaptureEvent) Timeline {
	events := make([]Event, 0, len(messages)+len(fallbacks)+len(leads))
	for _, m := range messages {
		events = append(events, m)
	}
	for _, f := range fallbacks {
		events = append(events, f)
	}
	for _, l := range leads {
		events = append(events, l)
	}

	slices.SortStableFunc(events, compare)
	events = slices.CompactFunc(events, sameOccurrence)
	return Timeline{events: events}
}

// sameOccurrence reports whether b repeats a. Events without an id are never
// treated as repeats.
func sameOccurrence(a, b Event) bool {
	return a.Identity() != "" &&
		a.Kind() == b.Kind() &&
		a.Identity() == b.Identity() &&
		a.Time().Equal(b.Time())
}

func compare(a, b Event) int {
	if c := a.Time().Compare(b.Time()); c != 0 {
		return c
	}
	if c := cmp.Compare(tieRank(a.Kind()), tieRank(b.Kind())); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Identity(), b.Identity()); c != 0 {
		return c
	}
	return cmp.Compare(Describe(a), Describe(b))
}
