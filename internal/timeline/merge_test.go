package timeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func TestMergeTieBreakAtSameInstant(t *testing.T) {
	tl := Merge(
		[]MessageEvent{{Timestamp: at(10), Text: "hi"}},
		[]FallbackEvent{{Timestamp: at(10), Reason: "x"}},
		[]LeadCaptureEvent{{Timestamp: at(10), LeadID: "5"}},
	)

	require.Equal(t, 3, tl.Len())
	assert.Equal(t, KindLeadCapture, tl.At(0).Kind())
	assert.Equal(t, KindFallback, tl.At(1).Kind())
	assert.Equal(t, KindMessage, tl.At(2).Kind())
}

func TestMergeSortsAscending(t *testing.T) {
	tl := Merge(
		[]MessageEvent{
			{ID: "m2", Timestamp: at(30), Text: "book me"},
			{ID: "m1", Timestamp: at(5), Text: "hello", IsFromUser: true},
		},
		[]FallbackEvent{{ID: "f1", Timestamp: at(20), Reason: "low confidence"}},
		[]LeadCaptureEvent{{LeadID: "L1", Timestamp: at(40), SourceIntent: "booking"}},
	)

	var got []string
	for _, e := range tl.Events() {
		got = append(got, e.Identity())
	}
	assert.Equal(t, []string{"m1", "f1", "m2", "L1"}, got)
}

func TestMergeIsDeterministicAcrossInputOrder(t *testing.T) {
	msgs := []MessageEvent{
		{ID: "a", Timestamp: at(1), Text: "one"},
		{ID: "b", Timestamp: at(1), Text: "two"},
		{Timestamp: at(1), Text: "anonymous z"},
		{Timestamp: at(1), Text: "anonymous a"},
	}
	fbs := []FallbackEvent{{ID: "f", Timestamp: at(1), Reason: "r"}, {ID: "g", Timestamp: at(0), Reason: "s"}}
	leads := []LeadCaptureEvent{{LeadID: "9", Timestamp: at(1)}}

	first, err := json.Marshal(Merge(msgs, fbs, leads))
	require.NoError(t, err)

	reversedMsgs := []MessageEvent{msgs[3], msgs[2], msgs[1], msgs[0]}
	reversedFbs := []FallbackEvent{fbs[1], fbs[0]}
	second, err := json.Marshal(Merge(reversedMsgs, reversedFbs, leads))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestMergeDedupesOnlyIdenticalTriples(t *testing.T) {
	tl := Merge(
		[]MessageEvent{
			{ID: "m1", Timestamp: at(1), Text: "hi"},
			{ID: "m1", Timestamp: at(1), Text: "hi"},
			{ID: "m1", Timestamp: at(2), Text: "hi"},
			{Timestamp: at(3), Text: "same"},
			{Timestamp: at(3), Text: "same"},
		},
		[]FallbackEvent{{ID: "m1", Timestamp: at(1), Reason: "shares id with a message"}},
		[]LeadCaptureEvent{{LeadID: "7", Timestamp: at(4)}, {LeadID: "7", Timestamp: at(4)}},
	)

	assert.Equal(t, 6, tl.Len())
}

func TestMergeDuplicateSurvivorIgnoresInputOrder(t *testing.T) {
	first := MessageEvent{ID: "m1", Timestamp: at(1), Text: "zeta"}
	second := MessageEvent{ID: "m1", Timestamp: at(1), Text: "alpha"}

	forward := Merge([]MessageEvent{first, second}, nil, nil)
	backward := Merge([]MessageEvent{second, first}, nil, nil)

	require.Equal(t, 1, forward.Len())
	assert.Equal(t, forward.Events(), backward.Events())
	assert.Equal(t, "alpha", forward.At(0).(MessageEvent).Text)
}

func TestTimelineIsReadOnly(t *testing.T) {
	tl := Merge([]MessageEvent{{ID: "m1", Timestamp: at(1), Text: "hi"}}, nil, nil)

	events := tl.Events()
	events[0] = FallbackEvent{ID: "hijack"}

	assert.Equal(t, KindMessage, tl.At(0).Kind())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Customer (pricing): how much?", Describe(MessageEvent{IsFromUser: true, Intent: "pricing", Text: "how much?"}))
	assert.Equal(t, "Assistant: sure", Describe(MessageEvent{Text: "sure"}))
	assert.Equal(t, "Fallback: x", Describe(FallbackEvent{Reason: "x"}))
	assert.Equal(t, "Lead 5 captured from booking", Describe(LeadCaptureEvent{LeadID: "5", SourceIntent: "booking"}))
}

func TestMarshalJSONTagsVariants(t *testing.T) {
	tl := Merge(nil, []FallbackEvent{{ID: "f1", Timestamp: at(0), Reason: "x"}}, []LeadCaptureEvent{{LeadID: "5", Timestamp: at(1)}})

	raw, err := json.Marshal(tl)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "fallback", decoded[0]["type"])
	assert.Equal(t, "lead_capture", decoded[1]["type"])
	assert.Equal(t, "5", decoded[1]["lead_id"])
}
