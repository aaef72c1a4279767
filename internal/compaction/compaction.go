// Package compaction implements the Compactor the agent package's turn
// loop calls into when the token budget recommends shrinking a thread's
// context: summarize the oldest contiguous run of events and replace them,
// for projection purposes only, with a single synthetic AGENT_MESSAGE.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/pkg/models"
)

// defaultSystemPrompt is used to ask the provider for a compact summary of
// the events being dropped.
const defaultSystemPrompt = "You are summarizing a conversation so it can continue with less context. " +
	"Write a concise summary of the events below that preserves facts, decisions, and open tasks " +
	"a continuing assistant would need. Do not address the user; write in third person."

// minKeep is the minimum number of trailing events (spec's k) a compaction
// must leave unsummarized, so the most recent exchange is always replayed
// verbatim rather than through a summary.
const minKeep = 2

// Compactor implements agent.Compactor: it summarizes the oldest
// contiguous prefix of a thread's events via a Provider and appends a
// COMPACTION event recording the replacement.
type Compactor struct {
	Store        thread.Store
	Provider     provider.Provider
	SystemPrompt string
	// Keep overrides minKeep; zero uses the default.
	Keep int
}

// New returns a Compactor backed by store and prov.
func New(store thread.Store, prov provider.Provider) *Compactor {
	return &Compactor{Store: store, Provider: prov, SystemPrompt: defaultSystemPrompt}
}

// Compact summarizes threadID's oldest compactable prefix and appends a
// COMPACTION event. It is a no-op if the thread is too short to compact.
// Summarization failures fall back to a truncation summary rather than
// leaving the thread over budget.
func (c *Compactor) Compact(ctx context.Context, threadID models.ThreadID) error {
	events, err := c.Store.Events(ctx, threadID)
	if err != nil {
		return fmt.Errorf("compaction: loading thread %s: %w", threadID, err)
	}

	prefix, _ := splitCompactable(events, c.keep())
	if len(prefix) == 0 {
		return nil
	}

	summary := c.summarize(ctx, prefix)

	summaryData, err := json.Marshal(models.MessageData{Text: summary})
	if err != nil {
		return fmt.Errorf("compaction: encoding summary: %w", err)
	}
	synthetic := models.ThreadEvent{
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		Type:      models.EventAgentMessage,
		Data:      summaryData,
	}

	compactionData := models.CompactionData{
		OriginalEventCount: len(prefix),
		CompactedEvents:    []models.ThreadEvent{synthetic},
	}
	raw, err := json.Marshal(compactionData)
	if err != nil {
		return fmt.Errorf("compaction: encoding COMPACTION payload: %w", err)
	}

	if _, err := c.Store.Append(ctx, models.ThreadEvent{
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		Type:      models.EventCompaction,
		Data:      raw,
	}); err != nil {
		return fmt.Errorf("compaction: appending COMPACTION event: %w", err)
	}
	return nil
}

func (c *Compactor) keep() int {
	if c.Keep > 0 {
		return c.Keep
	}
	return minKeep
}

// splitCompactable picks the oldest contiguous prefix to summarize,
// leaving at least keep trailing events and never splitting off the most
// recent USER_MESSAGE: the suffix always starts at or before it, so the
// user's latest turn is replayed verbatim rather than folded into a
// summary.
func splitCompactable(events []models.ThreadEvent, keep int) (prefix, suffix []models.ThreadEvent) {
	if len(events) <= keep {
		return nil, events
	}

	split := len(events) - keep

	lastUser := -1
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == models.EventUserMessage {
			lastUser = i
			break
		}
	}
	if lastUser >= 0 && split > lastUser {
		split = lastUser
	}
	if split <= 0 {
		return nil, events
	}
	return events[:split], events[split:]
}

// summarize asks the provider to condense prefix into a short summary,
// falling back to a mechanical truncation note if the call fails.
func (c *Compactor) summarize(ctx context.Context, prefix []models.ThreadEvent) string {
	transcript := renderTranscript(prefix)
	req := provider.Request{
		Messages:     []provider.Message{{Role: "user", Text: transcript}},
		SystemPrompt: c.SystemPrompt,
		MaxTokens:    1024,
	}

	resp, err := c.Provider.CreateResponse(ctx, req, nil)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return fmt.Sprintf("[%d earlier events were truncated without summarization]", len(prefix))
	}
	return resp.Content
}

// renderTranscript flattens events into a plain-text transcript the
// provider can summarize, skipping events that carry no content of their
// own (system prompts, prior COMPACTION markers).
func renderTranscript(events []models.ThreadEvent) string {
	var b strings.Builder
	for _, e := range events {
		switch e.Type {
		case models.EventUserMessage, models.EventAgentMessage, models.EventLocalSystemMsg:
			var d models.MessageData
			if json.Unmarshal(e.Data, &d) == nil && d.Text != "" {
				fmt.Fprintf(&b, "%s: %s\n", e.Type, d.Text)
			}
		case models.EventToolCall:
			var d models.ToolCallData
			if json.Unmarshal(e.Data, &d) == nil {
				fmt.Fprintf(&b, "TOOL_CALL %s(%s)\n", d.Name, string(d.Arguments))
			}
		case models.EventToolResult:
			var d models.ToolResultData
			if json.Unmarshal(e.Data, &d) == nil {
				fmt.Fprintf(&b, "TOOL_RESULT: %s\n", d.Text())
			}
		}
	}
	return b.String()
}
