// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// provider.Provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lacehq/lace/internal/provider"
)

const defaultMaxTokens = int64(4096)

// Provider implements provider.Provider against the Anthropic Messages API.
type Provider struct {
	sdk   anthropic.Client
	model string
	retry provider.RetryPolicy
}

// New returns a Provider for apiKey. baseURL overrides the API root ("" to
// use Anthropic's default); model defaults to Claude's latest Sonnet.
func New(apiKey, model, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &Provider{
		sdk:   anthropic.NewClient(opts...),
		model: model,
		retry: provider.NewRetryPolicy("anthropic"),
	}
}

func (p *Provider) Name() string            { return "anthropic" }
func (p *Provider) DefaultModel() string    { return p.model }
func (p *Provider) SupportsStreaming() bool { return true }

// SetRetryPolicy replaces the retry policy Do is called with, letting
// callers apply a configured RetryConfig instead of the package default.
func (p *Provider) SetRetryPolicy(policy provider.RetryPolicy) { p.retry = policy }

func (p *Provider) CountTokens(req provider.Request) int {
	chars := len(req.SystemPrompt)
	for _, m := range req.Messages {
		chars += len(m.Text)
	}
	return (chars + 3) / 4
}

func (p *Provider) CreateResponse(ctx context.Context, req provider.Request, sink provider.Sink) (provider.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return provider.Response{}, err
	}

	return p.retry.Do(ctx, sink, func(attempt int) (provider.Response, bool, error) {
		resp, err := p.sdk.Messages.New(ctx, params)
		if err != nil {
			return provider.Response{}, false, p.classify(err)
		}
		out := responseFromMessage(resp)
		emitComplete(sink, out)
		return out, false, nil
	})
}

func (p *Provider) CreateStreamingResponse(ctx context.Context, req provider.Request, sink provider.Sink) (provider.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return provider.Response{}, err
	}

	return p.retry.Do(ctx, sink, func(attempt int) (provider.Response, bool, error) {
		return p.consumeStream(ctx, params, sink)
	})
}

func (p *Provider) buildParams(req provider.Request) (anthropic.MessageNewParams, error) {
	converted, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func convertMessages(messages []provider.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for i, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if strings.TrimSpace(m.Text) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, decodeArgs(tc.Input), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Text, m.IsError)))
		default:
			return nil, fmt.Errorf("anthropic provider: unsupported role %q at message %d", m.Role, i)
		}
	}
	return out, nil
}

func decodeArgs(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func convertTools(tools []provider.ToolDef) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic provider: tool %q schema: %w", t.Name, err)
		}
		union := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if union.OfTool != nil {
			union.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, union)
	}
	return out, nil
}

func responseFromMessage(resp *anthropic.Message) provider.Response {
	if resp == nil {
		return provider.Response{}
	}
	var text strings.Builder
	var calls []provider.ToolCall
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			args := v.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			calls = append(calls, provider.ToolCall{ID: v.ID, Name: v.Name, Input: args})
		}
	}

	return provider.Response{
		Content:   text.String(),
		ToolCalls: calls,
		Usage: provider.Usage{
			PromptTokens:     int(resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
		StopReason: stopReasonFromAnthropic(resp.StopReason),
	}
}

func stopReasonFromAnthropic(reason anthropic.StopReason) provider.StopReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return provider.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return provider.StopMaxTokens
	default:
		return provider.StopEndTurn
	}
}

// consumeStream drains a Messages.NewStreaming event loop, emitting
// EventToken for text deltas and tracking tool_use input via
// InputJSONDelta events keyed by content block index (the SDK's own
// Accumulate can mis-marshal empty tool inputs, so the adapter tracks
// arguments itself rather than relying on it).
func (p *Provider) consumeStream(ctx context.Context, params anthropic.MessageNewParams, sink provider.Sink) (provider.Response, bool, error) {
	stream := p.sdk.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	var usage anthropic.MessageDeltaUsage
	stopReason := provider.StopEndTurn
	type toolBuf struct {
		id, name string
		args     strings.Builder
	}
	tools := map[int64]*toolBuf{}
	var order []int64
	streamedToken := false

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return provider.Response{}, streamedToken, err
		}
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				tb := &toolBuf{id: block.ID, name: block.Name}
				if len(block.Input) > 0 {
					tb.args.Write(block.Input)
				}
				tools[ev.Index] = tb
				order = append(order, ev.Index)
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					text.WriteString(delta.Text)
					streamedToken = true
					emit(sink, provider.Event{Type: provider.EventToken, Token: delta.Text})
				}
			case anthropic.InputJSONDelta:
				if tb := tools[ev.Index]; tb != nil {
					tb.args.WriteString(delta.PartialJSON)
				}
			}
		case anthropic.MessageDeltaEvent:
			usage = ev.Usage
			if ev.Delta.StopReason != "" {
				stopReason = stopReasonFromAnthropic(ev.Delta.StopReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return provider.Response{}, streamedToken, p.classify(err)
	}

	resp := provider.Response{
		Content: text.String(),
		Usage: provider.Usage{
			PromptTokens:     int(usage.InputTokens),
			CompletionTokens: int(usage.OutputTokens),
		},
		StopReason: stopReason,
	}
	for _, idx := range order {
		tb := tools[idx]
		args := tb.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{ID: tb.id, Name: tb.name, Input: []byte(args)})
	}
	emitComplete(sink, resp)
	return resp, streamedToken, nil
}

func (p *Provider) classify(err error) *provider.Error {
	return provider.NewError(p.Name(), p.model, err)
}

func emit(sink provider.Sink, ev provider.Event) {
	if sink != nil {
		sink(ev)
	}
}

func emitComplete(sink provider.Sink, resp provider.Response) {
	emit(sink, provider.Event{Type: provider.EventComplete, Response: &resp})
}
