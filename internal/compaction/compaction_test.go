package compaction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/pkg/models"
)

func appendMsg(t *testing.T, store thread.Store, threadID models.ThreadID, typ models.EventType, text string) {
	t.Helper()
	data, err := json.Marshal(models.MessageData{Text: text})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := store.Append(context.Background(), models.ThreadEvent{
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Data:      data,
	}); err != nil {
		t.Fatalf("Append() err = %v", err)
	}
}

func TestCompactReplacesOldestPrefixKeepingLastUserTurn(t *testing.T) {
	store := thread.NewMemoryStore()
	threadID := models.NewThreadID(time.Unix(0, 0), "abcdef")

	appendMsg(t, store, threadID, models.EventUserMessage, "what is the capital of France")
	appendMsg(t, store, threadID, models.EventAgentMessage, "Paris")
	appendMsg(t, store, threadID, models.EventUserMessage, "and Germany")
	appendMsg(t, store, threadID, models.EventAgentMessage, "Berlin")
	appendMsg(t, store, threadID, models.EventUserMessage, "and Italy")

	fake := provider.NewFake("fake", provider.FakeStep{
		Response: provider.Response{Content: "Discussed European capitals: Paris, Berlin.", StopReason: provider.StopEndTurn},
	})

	c := New(store, fake)
	if err := c.Compact(context.Background(), threadID); err != nil {
		t.Fatalf("Compact() err = %v", err)
	}

	events, err := store.Events(context.Background(), threadID)
	if err != nil {
		t.Fatalf("Events() err = %v", err)
	}

	var compactionEvents int
	var lastCompaction models.ThreadEvent
	for _, e := range events {
		if e.Type == models.EventCompaction {
			compactionEvents++
			lastCompaction = e
		}
	}
	if compactionEvents != 1 {
		t.Fatalf("compaction events = %d, want 1", compactionEvents)
	}

	var data models.CompactionData
	if err := json.Unmarshal(lastCompaction.Data, &data); err != nil {
		t.Fatalf("decoding COMPACTION data: %v", err)
	}
	if data.OriginalEventCount != 3 {
		t.Fatalf("OriginalEventCount = %d, want 3 (the first 3 events, keeping the last 2, which end with the latest user turn)", data.OriginalEventCount)
	}
	if len(data.CompactedEvents) != 1 || data.CompactedEvents[0].Type != models.EventAgentMessage {
		t.Fatalf("CompactedEvents = %+v, want one synthetic AGENT_MESSAGE", data.CompactedEvents)
	}
	var summary models.MessageData
	if err := json.Unmarshal(data.CompactedEvents[0].Data, &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Text != "Discussed European capitals: Paris, Berlin." {
		t.Fatalf("summary.Text = %q", summary.Text)
	}
}

func TestCompactIsNoopWhenThreadTooShort(t *testing.T) {
	store := thread.NewMemoryStore()
	threadID := models.NewThreadID(time.Unix(0, 0), "abcdef")
	appendMsg(t, store, threadID, models.EventUserMessage, "hello")

	fake := provider.NewFake("fake")
	c := New(store, fake)
	if err := c.Compact(context.Background(), threadID); err != nil {
		t.Fatalf("Compact() err = %v", err)
	}

	events, _ := store.Events(context.Background(), threadID)
	if len(events) != 1 {
		t.Fatalf("events = %v, want unchanged single event", events)
	}
}

func TestCompactFallsBackToTruncationOnSummarizationFailure(t *testing.T) {
	store := thread.NewMemoryStore()
	threadID := models.NewThreadID(time.Unix(0, 0), "abcdef")

	appendMsg(t, store, threadID, models.EventUserMessage, "one")
	appendMsg(t, store, threadID, models.EventAgentMessage, "two")
	appendMsg(t, store, threadID, models.EventUserMessage, "three")
	appendMsg(t, store, threadID, models.EventAgentMessage, "four")
	appendMsg(t, store, threadID, models.EventUserMessage, "five")

	fake := provider.NewFake("fake", provider.FakeStep{Err: provider.NewError("fake", "fake-model", errBoom)})
	fake.Retry = provider.RetryPolicy{MaxAttempts: 1, ProviderName: "fake"}

	c := New(store, fake)
	if err := c.Compact(context.Background(), threadID); err != nil {
		t.Fatalf("Compact() err = %v, want nil (summarization failure falls back to truncation)", err)
	}

	events, _ := store.Events(context.Background(), threadID)
	var data models.CompactionData
	for _, e := range events {
		if e.Type == models.EventCompaction {
			_ = json.Unmarshal(e.Data, &data)
		}
	}
	if len(data.CompactedEvents) != 1 {
		t.Fatalf("CompactedEvents = %+v, want a fallback summary event", data.CompactedEvents)
	}
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

const errBoom = boomErr("boom")
