package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// Invalidator is the part of the dashboard service events drive.
type Invalidator interface {
	Invalidate(prefix string) int
	InvalidateConversation(id string) int
}

// Dispatcher applies decoded envelopes to an Invalidator.
type Dispatcher struct {
	target    Invalidator
	processed ProcessedStore
	logger    *logging.Logger
}

func NewDispatcher(target Invalidator, processed ProcessedStore, logger *logging.Logger) *Dispatcher {
	if target == nil {
		panic("events: invalidator required")
	}
	if processed == nil {
		processed = NewMemoryProcessedStore(1024)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{target: target, processed: processed, logger: logger.With("component", "events")}
}

// HandleBody decodes and dispatches one message. Malformed bodies are
// reported with ErrMalformed so transports can drop them instead of retrying.
func (d *Dispatcher) HandleBody(ctx context.Context, body []byte) error {
	env, err := Decode(body)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, env)
}

// Dispatch invalidates whatever env says changed. A redelivered event id is
// ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	if env.Meta.ID != "" {
		first, err := d.processed.MarkProcessed(ctx, env.Meta.ID)
		if err != nil {
			return fmt.Errorf("events: mark processed: %w", err)
		}
		if !first {
			d.logger.Debug("skipping duplicate event", "event_id", env.Meta.ID, "type", env.Meta.Type)
			return nil
		}
	}

	var n int
	switch env.Meta.Type {
	case TypeConversationUpdated, TypeLeadCaptured:
		n = d.target.InvalidateConversation(env.Data.ConversationID)
	case TypeConversationsChanged:
		prefix := env.Data.Prefix
		if prefix == "" {
			prefix = "conversations?"
		}
		n = d.target.Invalidate(prefix)
	default:
		d.logger.Warn("ignoring unknown event type", "type", env.Meta.Type, "event_id", env.Meta.ID)
		return nil
	}
	d.logger.Info("invalidated from event",
		"type", env.Meta.Type,
		"event_id", env.Meta.ID,
		"conversation_id", env.Data.ConversationID,
		"entries", n,
	)
	return nil
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformed)
}
