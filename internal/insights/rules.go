// Package insights derives status, labels and health indicators from a
// conversation's raw counters. Everything here is pure.
package insights

import (
	"fmt"
	"slices"
	"time"
)

// Record is the read-only snapshot of a conversation the heuristics look at.
type Record struct {
	ID             string
	Channel        string
	PrimaryIntent  string
	FallbackCount  int
	MessageCount   int
	HasLead        bool
	LeadID         string
	CreatedAt      time.Time
	RawStatusFlags []string
}

type Status string

const (
	StatusLeadCaptured   Status = "lead-captured"
	StatusNeedsAttention Status = "needs-attention"
	StatusAIHandled      Status = "ai-handled"
)

type Label string

const (
	LabelLead       Label = "Lead"
	LabelPricing    Label = "Pricing"
	LabelUnresolved Label = "Unresolved"
	LabelRepeat     Label = "Repeat"
	LabelHighIntent Label = "High Intent"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Indicator is an advisory health hint. It never blocks an action.
type Indicator struct {
	Kind     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Rules holds the thresholds behind the heuristics.
type Rules struct {
	NeedsAttentionFallbacks int
	// RepeatMessageThreshold is exceeded, not met, to earn the Repeat label.
	RepeatMessageThreshold int
	HighIntentIntents      []string
	PricingIntent          string
	UnknownIntent          string
}

// DefaultRules returns the stock thresholds.
func DefaultRules() Rules {
	return Rules{
		NeedsAttentionFallbacks: 2,
		RepeatMessageThreshold:  3,
		HighIntentIntents:       []string{"pricing", "booking", "human"},
		PricingIntent:           "pricing",
		UnknownIntent:           "unknown",
	}
}

// Status picks the single headline status. A captured lead wins regardless of
// fallbacks.
func (r Rules) Status(rec Record) Status {
	switch {
	case rec.HasLead:
		return StatusLeadCaptured
	case rec.FallbackCount >= r.NeedsAttentionFallbacks:
		return StatusNeedsAttention
	default:
		return StatusAIHandled
	}
}

// Labels returns every matching label in declaration order.
func (r Rules) Labels(rec Record) []Label {
	labels := make([]Label, 0, 5)
	if rec.HasLead {
		labels = append(labels, LabelLead)
	}
	if r.PricingIntent != "" && rec.PrimaryIntent == r.PricingIntent {
		labels = append(labels, LabelPricing)
	}
	if rec.FallbackCount >= 1 && !rec.HasLead {
		labels = append(labels, LabelUnresolved)
	}
	if rec.MessageCount > r.RepeatMessageThreshold {
		labels = append(labels, LabelRepeat)
	}
	if rec.PrimaryIntent != "" && slices.Contains(r.HighIntentIntents, rec.PrimaryIntent) {
		labels = append(labels, LabelHighIntent)
	}
	return labels
}

// HealthIndicators returns the advisory indicators for rec.
func (r Rules) HealthIndicators(rec Record) []Indicator {
	var out []Indicator
	if rec.FallbackCount >= r.NeedsAttentionFallbacks {
		out = append(out, Indicator{
			Kind:     "repeated_fallbacks",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%d fallbacks", rec.FallbackCount),
		})
	}
	if r.UnknownIntent != "" && rec.PrimaryIntent == r.UnknownIntent {
		out = append(out, Indicator{
			Kind:     "unresolved_intent",
			Severity: SeverityInfo,
			Message:  "Intent could not be determined",
		})
	}
	return out
}

// Assessment bundles every derived field for one record.
type Assessment struct {
	Status     Status      `json:"status"`
	Labels     []Label     `json:"labels"`
	Indicators []Indicator `json:"health_indicators"`
}

func (r Rules) Evaluate(rec Record) Assessment {
	return Assessment{
		Status:     r.Status(rec),
		Labels:     r.Labels(rec),
		Indicators: r.HealthIndicators(rec),
	}
}
