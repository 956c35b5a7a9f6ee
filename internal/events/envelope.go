// Package events turns upstream change notifications into cache
// invalidations. Notifications arrive over AMQP or SQS wrapped in an Envelope.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types, also used as AMQP routing keys.
const (
	TypeConversationUpdated  = "dashboard.conversation.updated.v1"
	TypeLeadCaptured         = "dashboard.lead.captured.v1"
	TypeConversationsChanged = "dashboard.conversations.changed.v1"
)

// RoutingKeys lists every event type the dispatcher understands.
func RoutingKeys() []string {
	return []string{TypeConversationUpdated, TypeLeadCaptured, TypeConversationsChanged}
}

type Meta struct {
	// Unique event ID, used to drop redeliveries.
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Data names what changed. An empty ConversationID means "some list".
type Data struct {
	ConversationID string `json:"conversation_id,omitempty"`
	LeadID         string `json:"lead_id,omitempty"`
	// Prefix overrides the derived cache prefix for conversations.changed.
	Prefix string `json:"prefix,omitempty"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data Data `json:"data"`
}

// NewEnvelope stamps a fresh id and time.
func NewEnvelope(eventType, producer string, data Data) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Time:     time.Now().UTC(),
			Producer: producer,
		},
		Data: data,
	}
}

var ErrMalformed = errors.New("events: malformed envelope")

// Decode parses and validates an envelope body.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Meta.Type = strings.TrimSpace(env.Meta.Type)
	if env.Meta.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing meta.type", ErrMalformed)
	}
	return env, nil
}
