package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dashboard-sync/internal/archive"
	"github.com/wolfman30/dashboard-sync/internal/timeline"
)

// ErrNotLoaded is returned when exporting a conversation that has not been
// resolved yet. Export never fetches.
var ErrNotLoaded = errors.New("dashboard: conversation not loaded")

// Snapshot is the downloadable export of one conversation.
type Snapshot struct {
	Conversation  DetailConversation `json:"conversation"`
	Intelligence  Intelligence       `json:"intelligence"`
	AIReasoning   json.RawMessage    `json:"ai_reasoning"`
	Timeline      timeline.Timeline  `json:"timeline"`
	Lead          *Lead              `json:"lead"`
	Messages      []Message          `json:"messages"`
	InternalNotes string             `json:"internal_notes"`
	ExportedAt    time.Time          `json:"exported_at"`
}

// Export builds the snapshot for id from whatever the cache already holds and
// returns it as indented JSON. It reads the cache without resolving, so it has
// no effect on freshness or in-flight fetches. When an archive is configured
// the export is also stored there; an archive failure is logged, not returned.
func (s *Service) Export(ctx context.Context, id string) ([]byte, *Snapshot, error) {
	id = strings.TrimSpace(id)
	entry, ok := s.cache.Peek(detailKey(id))
	if !ok || !entry.HasValue {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	detail, ok := entry.Value.(*ConversationDetail)
	if !ok || detail == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}

	snap := s.snapshot(detail, s.notes.Get(id), s.clock().UTC())
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("dashboard: encode export: %w", err)
	}

	if s.archive != nil {
		if err := s.archiveSnapshot(ctx, id, detail, snap, data); err != nil {
			s.logger.Warn("export archive failed", "conversation_id", id, "error", err)
		}
	}
	return data, snap, nil
}

func (s *Service) snapshot(d *ConversationDetail, note string, now time.Time) *Snapshot {
	return &Snapshot{
		Conversation:  d.Conversation,
		Intelligence:  d.Intelligence,
		AIReasoning:   s.reasoning(d, d.Record()),
		Timeline:      d.MergedTimeline(s.logger),
		Lead:          d.Lead,
		Messages:      d.Messages,
		InternalNotes: note,
		ExportedAt:    now,
	}
}

func (s *Service) archiveSnapshot(ctx context.Context, id string, d *ConversationDetail, snap *Snapshot, data []byte) error {
	body := data
	if s.redact {
		redacted, err := json.MarshalIndent(redactSnapshot(snap), "", "  ")
		if err != nil {
			return fmt.Errorf("dashboard: encode redacted export: %w", err)
		}
		body = redacted
	}
	_, err := s.archive.ArchiveExport(ctx, archive.Record{
		ConversationID: id,
		ExportedAt:     snap.ExportedAt,
		Status:         string(s.rules.Status(d.Record())),
		MessageCount:   len(d.Messages),
		Body:           body,
	})
	return err
}

// redactSnapshot returns a copy with lead contacts hashed and message text
// scrubbed of emails and phone numbers.
func redactSnapshot(in *Snapshot) *Snapshot {
	out := *in
	out.Conversation.UserMessage = archive.ScrubPII(out.Conversation.UserMessage)
	out.Conversation.BotReply = archive.ScrubPII(out.Conversation.BotReply)
	out.InternalNotes = archive.ScrubPII(out.InternalNotes)
	if in.Lead != nil {
		lead := *in.Lead
		lead.Email = archive.HashContact(lead.Email)
		lead.Phone = archive.HashContact(lead.Phone)
		out.Lead = &lead
	}
	out.Messages = make([]Message, len(in.Messages))
	for i, m := range in.Messages {
		m.Text = archive.ScrubPII(m.Text)
		out.Messages[i] = m
	}
	var msgs []timeline.MessageEvent
	var fbs []timeline.FallbackEvent
	var leads []timeline.LeadCaptureEvent
	for _, e := range in.Timeline.Events() {
		switch ev := e.(type) {
		case timeline.MessageEvent:
			ev.Text = archive.ScrubPII(ev.Text)
			msgs = append(msgs, ev)
		case timeline.FallbackEvent:
			ev.Reason = archive.ScrubPII(ev.Reason)
			fbs = append(fbs, ev)
		case timeline.LeadCaptureEvent:
			leads = append(leads, ev)
		}
	}
	out.Timeline = timeline.Merge(msgs, fbs, leads)
	return &out
}

// ExportFilename is the attachment name for an export.
func ExportFilename(id string, at time.Time) string {
	return fmt.Sprintf("conversation-%s-%s.json", id, at.UTC().Format("2006-01-02"))
}
