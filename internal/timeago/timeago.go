// Package timeago renders timestamps as short relative labels ("3m ago") and
// keeps them current at a cadence proportional to their age.
package timeago

import (
	"fmt"
	"time"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// Unknown is rendered for a missing timestamp.
const Unknown = "Unknown"

// Format renders ts relative to now. Future timestamps render as "Just now".
func Format(ts, now time.Time) string {
	age := now.Sub(ts)
	switch {
	case age < 10*time.Second:
		return "Just now"
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age/time.Second))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age/time.Minute))
	case age < day:
		return fmt.Sprintf("%dh ago", int(age/time.Hour))
	case age < week:
		return fmt.Sprintf("%dd ago", int(age/day))
	case age < month:
		return fmt.Sprintf("%dw ago", int(age/week))
	case age < year:
		return fmt.Sprintf("%dmo ago", int(age/month))
	default:
		return fmt.Sprintf("%dy ago", int(age/year))
	}
}

// Render is Format for an optional timestamp.
func Render(ts *time.Time, now time.Time) string {
	if ts == nil || ts.IsZero() {
		return Unknown
	}
	return Format(*ts, now)
}

// RefreshInterval is how long a label for a timestamp of the given age stays
// accurate to its bucket resolution.
func RefreshInterval(age time.Duration) time.Duration {
	switch {
	case age < time.Minute:
		return time.Second
	case age < time.Hour:
		return 10 * time.Second
	case age < day:
		return time.Minute
	default:
		return 5 * time.Minute
	}
}
