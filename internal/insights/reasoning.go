package insights

// Reasoning is the rule trace shown next to a conversation.
type Reasoning struct {
	DetectedIntent string   `json:"detected_intent"`
	Confidence     string   `json:"confidence"`
	RulesMatched   []string `json:"rules_matched"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
}

// Confidence is "low" for the unknown intent and "high" otherwise.
func (r Rules) Confidence(intent string) string {
	if intent == "" || intent == r.UnknownIntent {
		return "low"
	}
	return "high"
}

func (r Rules) Reasoning(rec Record) Reasoning {
	out := Reasoning{
		DetectedIntent: rec.PrimaryIntent,
		Confidence:     r.Confidence(rec.PrimaryIntent),
		RulesMatched:   []string{},
	}
	if out.Confidence == "high" {
		out.RulesMatched = append(out.RulesMatched, rec.PrimaryIntent)
	} else {
		out.FallbackReason = "Unknown intent detected"
	}
	return out
}
