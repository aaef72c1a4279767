package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lacehq/lace/pkg/models"
)

func msgEvent(typ models.EventType, text string, at time.Time) models.ThreadEvent {
	data, _ := json.Marshal(models.MessageData{Text: text})
	return models.ThreadEvent{Timestamp: at, Type: typ, Data: data}
}

func compactionEvent(originalCount int, summary string, at time.Time) models.ThreadEvent {
	summaryData, _ := json.Marshal(models.MessageData{Text: summary})
	raw, _ := json.Marshal(models.CompactionData{
		OriginalEventCount: originalCount,
		CompactedEvents: []models.ThreadEvent{
			{Type: models.EventAgentMessage, Data: summaryData},
		},
	})
	return models.ThreadEvent{Timestamp: at, Type: models.EventCompaction, Data: raw}
}

// A COMPACTION marker is appended after the kept suffix, so the stored log
// is [prefix..., keptSuffix..., COMPACTION]. Projection must replay the
// summary plus the kept suffix, not just the summary.
func TestApplyLatestCompactionKeepsTrailingSuffix(t *testing.T) {
	now := time.Unix(0, 0)
	events := []models.ThreadEvent{
		msgEvent(models.EventUserMessage, "old question", now),
		msgEvent(models.EventAgentMessage, "old answer", now.Add(time.Second)),
		msgEvent(models.EventUserMessage, "latest question", now.Add(2*time.Second)),
		msgEvent(models.EventAgentMessage, "latest answer", now.Add(3*time.Second)),
		compactionEvent(2, "summary of old exchange", now.Add(4*time.Second)),
	}

	out, err := applyLatestCompaction(events)
	if err != nil {
		t.Fatalf("applyLatestCompaction() err = %v", err)
	}

	if len(out) != 3 {
		t.Fatalf("applyLatestCompaction() returned %d events, want 3 (summary + 2 kept); got %+v", len(out), out)
	}

	var summary models.MessageData
	if err := json.Unmarshal(out[0].Data, &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Text != "summary of old exchange" {
		t.Fatalf("out[0].Text = %q, want the synthetic summary", summary.Text)
	}

	var latestQuestion models.MessageData
	if err := json.Unmarshal(out[1].Data, &latestQuestion); err != nil {
		t.Fatalf("decoding kept suffix[0]: %v", err)
	}
	if latestQuestion.Text != "latest question" || out[1].Type != models.EventUserMessage {
		t.Fatalf("out[1] = %+v, want the kept latest question", out[1])
	}

	var latestAnswer models.MessageData
	if err := json.Unmarshal(out[2].Data, &latestAnswer); err != nil {
		t.Fatalf("decoding kept suffix[1]: %v", err)
	}
	if latestAnswer.Text != "latest answer" || out[2].Type != models.EventAgentMessage {
		t.Fatalf("out[2] = %+v, want the kept latest answer", out[2])
	}
}

func TestApplyLatestCompactionNoMarkerReturnsEventsUnchanged(t *testing.T) {
	events := []models.ThreadEvent{
		msgEvent(models.EventUserMessage, "hi", time.Unix(0, 0)),
	}
	out, err := applyLatestCompaction(events)
	if err != nil {
		t.Fatalf("applyLatestCompaction() err = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("applyLatestCompaction() = %+v, want events unchanged", out)
	}
}

func TestProjectEventsReplaysCompactedSummaryThenSuffix(t *testing.T) {
	now := time.Unix(0, 0)
	events := []models.ThreadEvent{
		msgEvent(models.EventUserMessage, "old question", now),
		msgEvent(models.EventAgentMessage, "old answer", now.Add(time.Second)),
		msgEvent(models.EventUserMessage, "latest question", now.Add(2*time.Second)),
		msgEvent(models.EventAgentMessage, "latest answer", now.Add(3*time.Second)),
		compactionEvent(2, "summary of old exchange", now.Add(4*time.Second)),
	}

	messages, err := projectEvents(events)
	if err != nil {
		t.Fatalf("projectEvents() err = %v", err)
	}

	want := []struct {
		role string
		text string
	}{
		{"assistant", "summary of old exchange"},
		{"user", "latest question"},
		{"assistant", "latest answer"},
	}
	if len(messages) != len(want) {
		t.Fatalf("projectEvents() = %+v, want %d messages", messages, len(want))
	}
	for i, w := range want {
		if messages[i].Role != w.role || messages[i].Text != w.text {
			t.Fatalf("messages[%d] = %+v, want role=%s text=%q", i, messages[i], w.role, w.text)
		}
	}
}
