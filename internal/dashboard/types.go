package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/dashboard-sync/internal/insights"
	"github.com/wolfman30/dashboard-sync/internal/timeline"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// ID accepts both numeric and string identifiers from the upstream API.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("dashboard: id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Timestamp parses the upstream's ISO timestamps, which may lack a zone.
// Zoneless values are taken as UTC.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("dashboard: timestamp %s: %w", data, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("dashboard: unrecognised timestamp %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Ptr returns nil for a zero timestamp.
func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// ListPage is one page of GET /api/dashboard/conversations.
type ListPage struct {
	Conversations []ConversationItem `json:"conversations"`
	Total         int                `json:"total"`
	Page          int                `json:"page"`
	Limit         int                `json:"limit"`
	TotalPages    int                `json:"total_pages"`
}

// ConversationItem is one row of a list page.
type ConversationItem struct {
	ID               ID        `json:"id"`
	UserID           string    `json:"user_id"`
	Channel          string    `json:"channel"`
	UserMessage      string    `json:"user_message"`
	BotReply         string    `json:"bot_reply"`
	Intent           string    `json:"intent"`
	CreatedAt        Timestamp `json:"created_at"`
	Status           string    `json:"status"`
	MessageCount     int       `json:"message_count"`
	FallbackCount    int       `json:"fallback_count"`
	Labels           []string  `json:"labels"`
	HealthIndicators []string  `json:"health_indicators"`
	HasLead          bool      `json:"has_lead"`
	LeadID           ID        `json:"lead_id"`
}

// Record projects the row onto the heuristics input.
func (c ConversationItem) Record() insights.Record {
	var flags []string
	if c.Status != "" {
		flags = append(flags, c.Status)
	}
	flags = append(flags, c.HealthIndicators...)
	return insights.Record{
		ID:             c.ID.String(),
		Channel:        c.Channel,
		PrimaryIntent:  c.Intent,
		FallbackCount:  c.FallbackCount,
		MessageCount:   c.MessageCount,
		HasLead:        c.HasLead,
		LeadID:         c.LeadID.String(),
		CreatedAt:      c.CreatedAt.Time,
		RawStatusFlags: flags,
	}
}

// ConversationDetail is GET /api/dashboard/conversations/{id}.
type ConversationDetail struct {
	Conversation     DetailConversation `json:"conversation"`
	Status           string             `json:"status"`
	Intelligence     Intelligence       `json:"intelligence"`
	AIReasoning      json.RawMessage    `json:"ai_reasoning"`
	Timeline         []TimelineEntry    `json:"timeline"`
	HealthIndicators []WireIndicator    `json:"health_indicators"`
	Lead             *Lead              `json:"lead"`
	Messages         []Message          `json:"messages"`
}

type DetailConversation struct {
	ID          ID        `json:"id"`
	UserID      string    `json:"user_id"`
	Channel     string    `json:"channel"`
	UserMessage string    `json:"user_message"`
	BotReply    string    `json:"bot_reply"`
	Intent      string    `json:"intent"`
	CreatedAt   Timestamp `json:"created_at"`
}

type Intelligence struct {
	PrimaryIntent string `json:"primary_intent"`
	Confidence    string `json:"confidence"`
	FallbackCount int    `json:"fallback_count"`
	MessageCount  int    `json:"message_count"`
}

// TimelineEntry is the upstream's own loosely typed timeline row: either a
// "conversation" turn or a "lead_capture".
type TimelineEntry struct {
	Type         string    `json:"type"`
	Timestamp    Timestamp `json:"timestamp"`
	Intent       string    `json:"intent,omitempty"`
	UserMessage  string    `json:"user_message,omitempty"`
	BotReply     string    `json:"bot_reply,omitempty"`
	IsFallback   bool      `json:"is_fallback,omitempty"`
	LeadID       ID        `json:"lead_id,omitempty"`
	SourceIntent string    `json:"source_intent,omitempty"`
}

type WireIndicator struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type Lead struct {
	ID           ID        `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Status       string    `json:"status"`
	SourceIntent string    `json:"source_intent"`
	CreatedAt    Timestamp `json:"created_at"`
}

type Message struct {
	ID         ID        `json:"id"`
	Text       string    `json:"text"`
	IsFromUser bool      `json:"is_from_user"`
	Intent     string    `json:"intent"`
	Timestamp  Timestamp `json:"timestamp"`
}

// Record projects the detail onto the heuristics input. Counters come from
// the intelligence block, which counts across the whole thread.
func (d *ConversationDetail) Record() insights.Record {
	intent := d.Intelligence.PrimaryIntent
	if intent == "" {
		intent = d.Conversation.Intent
	}
	msgCount := d.Intelligence.MessageCount
	if msgCount == 0 {
		msgCount = len(d.Messages)
	}
	rec := insights.Record{
		ID:            d.Conversation.ID.String(),
		Channel:       d.Conversation.Channel,
		PrimaryIntent: intent,
		FallbackCount: d.Intelligence.FallbackCount,
		MessageCount:  msgCount,
		HasLead:       d.Lead != nil,
		CreatedAt:     d.Conversation.CreatedAt.Time,
	}
	if d.Lead != nil {
		rec.LeadID = d.Lead.ID.String()
	}
	if d.Status != "" {
		rec.RawStatusFlags = []string{d.Status}
	}
	for _, hi := range d.HealthIndicators {
		rec.RawStatusFlags = append(rec.RawStatusFlags, hi.Type)
	}
	return rec
}

// MergedTimeline merges the detail's messages, its fallback turns and every lead
// capture it mentions. A lead listed both in the timeline and in the lead
// block collapses to one event. Rows without a timestamp cannot be placed and
// are dropped; each drop is logged at debug when logger is set.
func (d *ConversationDetail) MergedTimeline(logger *logging.Logger) timeline.Timeline {
	dropped := func(args ...any) {
		if logger != nil {
			logger.Debug("dropping timeline row without timestamp",
				append([]any{"conversation_id", string(d.Conversation.ID)}, args...)...)
		}
	}

	messages := make([]timeline.MessageEvent, 0, len(d.Messages))
	for _, m := range d.Messages {
		if m.Timestamp.IsZero() {
			dropped("kind", "message", "message_id", string(m.ID))
			continue
		}
		messages = append(messages, timeline.MessageEvent{
			ID:         m.ID.String(),
			Timestamp:  m.Timestamp.Time,
			IsFromUser: m.IsFromUser,
			Text:       m.Text,
			Intent:     m.Intent,
		})
	}

	var fallbacks []timeline.FallbackEvent
	var leads []timeline.LeadCaptureEvent
	for i, e := range d.Timeline {
		if e.Timestamp.IsZero() {
			dropped("kind", e.Type, "row", i, "lead_id", string(e.LeadID))
			continue
		}
		switch e.Type {
		case "conversation":
			if e.IsFallback {
				fallbacks = append(fallbacks, timeline.FallbackEvent{
					Timestamp: e.Timestamp.Time,
					Reason:    fallbackReason(e),
				})
			}
		case "lead_capture":
			leads = append(leads, timeline.LeadCaptureEvent{
				LeadID:       e.LeadID.String(),
				Timestamp:    e.Timestamp.Time,
				SourceIntent: e.SourceIntent,
			})
		}
	}
	if d.Lead != nil && !d.Lead.CreatedAt.IsZero() {
		leads = append(leads, timeline.LeadCaptureEvent{
			LeadID:       d.Lead.ID.String(),
			Timestamp:    d.Lead.CreatedAt.Time,
			SourceIntent: d.Lead.SourceIntent,
		})
	}
	return timeline.Merge(messages, fallbacks, leads)
}

func fallbackReason(e TimelineEntry) string {
	if e.UserMessage != "" {
		return fmt.Sprintf("Unknown intent for %q", e.UserMessage)
	}
	return "Unknown intent detected"
}
