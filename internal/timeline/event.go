// Package timeline merges the message, fallback and lead-capture streams of a
// conversation into one ordered, read-only sequence.
package timeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies an event variant.
type Kind string

const (
	KindMessage     Kind = "message"
	KindFallback    Kind = "fallback"
	KindLeadCapture Kind = "lead_capture"
)

// Event is one of MessageEvent, FallbackEvent or LeadCaptureEvent. The set is
// closed: only this package can add variants.
type Event interface {
	Kind() Kind
	Time() time.Time
	// Identity is the source id used for de-duplication. Empty ids never
	// collapse.
	Identity() string
	sealed()
}

type MessageEvent struct {
	ID         string
	Timestamp  time.Time
	IsFromUser bool
	Text       string
	Intent     string
}

type FallbackEvent struct {
	ID        string
	Timestamp time.Time
	Reason    string
}

type LeadCaptureEvent struct {
	LeadID       string
	Timestamp    time.Time
	SourceIntent string
}

func (MessageEvent) Kind() Kind     { return KindMessage }
func (FallbackEvent) Kind() Kind    { return KindFallback }
func (LeadCaptureEvent) Kind() Kind { return KindLeadCapture }

func (e MessageEvent) Time() time.Time     { return e.Timestamp }
func (e FallbackEvent) Time() time.Time    { return e.Timestamp }
func (e LeadCaptureEvent) Time() time.Time { return e.Timestamp }

func (e MessageEvent) Identity() string     { return e.ID }
func (e FallbackEvent) Identity() string    { return e.ID }
func (e LeadCaptureEvent) Identity() string { return e.LeadID }

func (MessageEvent) sealed()     {}
func (FallbackEvent) sealed()    {}
func (LeadCaptureEvent) sealed() {}

// Describe renders a one-line summary of e.
func Describe(e Event) string {
	switch ev := e.(type) {
	case MessageEvent:
		who := "Assistant"
		if ev.IsFromUser {
			who = "Customer"
		}
		if ev.Intent != "" {
			return fmt.Sprintf("%s (%s): %s", who, ev.Intent, ev.Text)
		}
		return fmt.Sprintf("%s: %s", who, ev.Text)
	case FallbackEvent:
		return "Fallback: " + ev.Reason
	case LeadCaptureEvent:
		if ev.SourceIntent != "" {
			return fmt.Sprintf("Lead %s captured from %s", ev.LeadID, ev.SourceIntent)
		}
		return fmt.Sprintf("Lead %s captured", ev.LeadID)
	default:
		panic(fmt.Sprintf("timeline: unknown event %T", e))
	}
}

// wireEvent is the JSON shape of an event.
type wireEvent struct {
	Type         Kind      `json:"type"`
	ID           string    `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsFromUser   *bool     `json:"is_from_user,omitempty"`
	Text         string    `json:"text,omitempty"`
	Intent       string    `json:"intent,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	LeadID       string    `json:"lead_id,omitempty"`
	SourceIntent string    `json:"source_intent,omitempty"`
	Summary      string    `json:"summary"`
}

func toWire(e Event) wireEvent {
	w := wireEvent{Type: e.Kind(), Timestamp: e.Time().UTC(), Summary: Describe(e)}
	switch ev := e.(type) {
	case MessageEvent:
		fromUser := ev.IsFromUser
		w.ID, w.IsFromUser, w.Text, w.Intent = ev.ID, &fromUser, ev.Text, ev.Intent
	case FallbackEvent:
		w.ID, w.Reason = ev.ID, ev.Reason
	case LeadCaptureEvent:
		w.LeadID, w.SourceIntent = ev.LeadID, ev.SourceIntent
	}
	return w
}

// MarshalJSON encodes the timeline as an array of tagged events.
func (t Timeline) MarshalJSON() ([]byte, error) {
	out := make([]wireEvent, 0, len(t.events))
	for _, e := range t.events {
		out = append(out, toWire(e))
	}
	return json.Marshal(out)
}
