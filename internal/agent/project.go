package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/pkg/models"
)

// project builds the provider message list for the next request by
// replaying the thread's events, honouring the latest COMPACTION event's
// prefix replacement (events before and including the replaced prefix are
// represented by the compaction's synthetic summary instead of being
// replayed individually).
func (a *Agent) project(ctx context.Context) ([]provider.Message, error) {
	events, err := a.cfg.Store.Events(ctx, a.cfg.ThreadID)
	if err != nil {
		return nil, &StorageError{Op: "events", Cause: &thread.StorageError{Op: "events", ThreadID: a.cfg.ThreadID, Err: err}}
	}
	return projectEvents(events)
}

// projectEvents is the pure projection function, factored out so
// compaction and tests can exercise it without a Store.
func projectEvents(events []models.ThreadEvent) ([]provider.Message, error) {
	effective, err := applyLatestCompaction(events)
	if err != nil {
		return nil, err
	}

	var messages []provider.Message
	var pendingAssistant *provider.Message

	flush := func() {
		if pendingAssistant != nil {
			messages = append(messages, *pendingAssistant)
			pendingAssistant = nil
		}
	}

	for _, e := range effective {
		switch e.Type {
		case models.EventUserMessage:
			flush()
			var d models.MessageData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("agent: decoding %s: %w", e.Type, err)
			}
			messages = append(messages, provider.Message{Role: "user", Text: d.Text})

		case models.EventSystemPrompt, models.EventUserSystemPrompt, models.EventLocalSystemMsg:
			// Carried in the request's SystemPrompt or surfaced to the UI
			// directly; they are not part of the provider message list.
			continue

		case models.EventAgentMessage:
			flush()
			var d models.MessageData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("agent: decoding %s: %w", e.Type, err)
			}
			pendingAssistant = &provider.Message{Role: "assistant", Text: d.Text}

		case models.EventToolCall:
			var d models.ToolCallData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("agent: decoding %s: %w", e.Type, err)
			}
			if pendingAssistant == nil {
				pendingAssistant = &provider.Message{Role: "assistant"}
			}
			pendingAssistant.ToolCalls = append(pendingAssistant.ToolCalls, provider.ToolCall{
				ID: d.ID, Name: d.Name, Input: []byte(d.Arguments),
			})

		case models.EventToolResult:
			flush()
			var d models.ToolResultData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return nil, fmt.Errorf("agent: decoding %s: %w", e.Type, err)
			}
			messages = append(messages, provider.Message{
				Role:       "tool",
				Text:       d.Text(),
				ToolCallID: d.ID,
				IsError:    d.IsError,
			})

		case models.EventCompaction:
			// Handled by applyLatestCompaction before this loop runs.
			continue
		}
	}
	flush()

	return messages, nil
}

// applyLatestCompaction finds the last COMPACTION event in events and
// replaces only the OriginalEventCount events preceding it with its
// synthetic summary. The kept suffix between that prefix and the marker
// itself (and anything appended after the marker) is replayed unchanged.
// Events are assumed oldest-first, as returned by thread.Store.Events.
func applyLatestCompaction(events []models.ThreadEvent) ([]models.ThreadEvent, error) {
	lastCompaction := -1
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == models.EventCompaction {
			lastCompaction = i
			break
		}
	}
	if lastCompaction < 0 {
		return events, nil
	}

	var data models.CompactionData
	if err := json.Unmarshal(events[lastCompaction].Data, &data); err != nil {
		return nil, fmt.Errorf("agent: decoding COMPACTION: %w", err)
	}

	prefixEnd := data.OriginalEventCount
	if prefixEnd > lastCompaction {
		prefixEnd = lastCompaction
	}

	out := make([]models.ThreadEvent, 0, len(data.CompactedEvents)+len(events)-prefixEnd-1)
	out = append(out, data.CompactedEvents...)
	out = append(out, events[prefixEnd:lastCompaction]...)
	out = append(out, events[lastCompaction+1:]...)
	return out, nil
}
