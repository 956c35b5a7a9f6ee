package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name string
		rec  Record
		want Status
	}{
		{"two fallbacks", Record{FallbackCount: 2}, StatusNeedsAttention},
		{"one fallback", Record{FallbackCount: 1}, StatusAIHandled},
		{"lead wins", Record{HasLead: true, FallbackCount: 9}, StatusLeadCaptured},
		{"lead no fallbacks", Record{HasLead: true}, StatusLeadCaptured},
		{"quiet", Record{}, StatusAIHandled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Status(tt.rec))
		})
	}
}

func TestHealthIndicators(t *testing.T) {
	rules := DefaultRules()

	got := rules.HealthIndicators(Record{FallbackCount: 2, PrimaryIntent: "pricing"})
	assert.Equal(t, []Indicator{{Kind: "repeated_fallbacks", Severity: SeverityWarning, Message: "2 fallbacks"}}, got)

	got = rules.HealthIndicators(Record{FallbackCount: 5, PrimaryIntent: "unknown"})
	if assert.Len(t, got, 2) {
		assert.Equal(t, "5 fallbacks", got[0].Message)
		assert.Equal(t, SeverityInfo, got[1].Severity)
	}

	assert.Empty(t, rules.HealthIndicators(Record{FallbackCount: 1, PrimaryIntent: "greeting"}))
}

func TestLabelsDeclarationOrder(t *testing.T) {
	rules := DefaultRules()

	assert.Equal(t,
		[]Label{LabelLead, LabelPricing, LabelRepeat, LabelHighIntent},
		rules.Labels(Record{HasLead: true, PrimaryIntent: "pricing", FallbackCount: 3, MessageCount: 4}),
	)
	assert.Equal(t,
		[]Label{LabelUnresolved},
		rules.Labels(Record{PrimaryIntent: "unknown", FallbackCount: 1, MessageCount: 3}),
	)
	assert.Equal(t,
		[]Label{LabelHighIntent},
		rules.Labels(Record{PrimaryIntent: "booking"}),
	)
	assert.Empty(t, rules.Labels(Record{PrimaryIntent: "greeting"}))
}

func TestCustomThresholds(t *testing.T) {
	rules := DefaultRules()
	rules.NeedsAttentionFallbacks = 4
	rules.RepeatMessageThreshold = 10
	rules.HighIntentIntents = nil

	a := rules.Evaluate(Record{FallbackCount: 3, MessageCount: 8, PrimaryIntent: "booking"})
	assert.Equal(t, StatusAIHandled, a.Status)
	assert.Equal(t, []Label{LabelUnresolved}, a.Labels)
	assert.Empty(t, a.Indicators)
}

func TestReasoning(t *testing.T) {
	rules := DefaultRules()

	r := rules.Reasoning(Record{PrimaryIntent: "pricing"})
	assert.Equal(t, "high", r.Confidence)
	assert.Equal(t, []string{"pricing"}, r.RulesMatched)
	assert.Empty(t, r.FallbackReason)

	r = rules.Reasoning(Record{PrimaryIntent: "unknown"})
	assert.Equal(t, "low", r.Confidence)
	assert.Empty(t, r.RulesMatched)
	assert.Equal(t, "Unknown intent detected", r.FallbackReason)
}
