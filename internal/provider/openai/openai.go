// Package openai adapts github.com/sashabaranov/go-openai to the
// provider.Provider contract.
package openai

import (
	"context"
	"encoding/json"
	"io"

	"github.com/lacehq/lace/internal/provider"
	openai "github.com/sashabaranov/go-openai"
)

// Provider implements provider.Provider against the OpenAI chat
// completions API.
type Provider struct {
	client *openai.Client
	model  string
	retry  provider.RetryPolicy
}

// New returns a Provider for apiKey, defaulting to model when a request
// doesn't pin one explicitly. baseURL overrides the API root, useful for
// OpenAI-compatible gateways; pass "" to use OpenAI's default endpoint.
func New(apiKey, model, baseURL string) *Provider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &Provider{
		client: openai.NewClientWithConfig(config),
		model:  model,
		retry:  provider.NewRetryPolicy("openai"),
	}
}

func (p *Provider) Name() string            { return "openai" }
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
	return p.run(ctx, req, sink, false)
}

func (p *Provider) CreateStreamingResponse(ctx context.Context, req provider.Request, sink provider.Sink) (provider.Response, error) {
	return p.run(ctx, req, sink, true)
}

func (p *Provider) run(ctx context.Context, req provider.Request, sink provider.Sink, streaming bool) (provider.Response, error) {
	chatReq := p.buildRequest(req, streaming)

	resp, err := p.retry.Do(ctx, sink, func(attempt int) (provider.Response, bool, error) {
		if !streaming {
			out, err := p.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return provider.Response{}, false, p.classify(err)
			}
			resp := responseFromCompletion(out)
			emitComplete(sink, resp)
			return resp, false, nil
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return provider.Response{}, false, p.classify(err)
		}
		return p.consumeStream(ctx, stream, sink)
	})
	return resp, err
}

func (p *Provider) buildRequest(req provider.Request, streaming bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    firstNonEmpty(p.model),
		Messages: messages,
		Stream:   streaming,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq
}

func firstNonEmpty(s string) string { return s }

func convertMessage(m provider.Message) openai.ChatCompletionMessage {
	switch m.Role {
	case "tool":
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    m.Text,
			ToolCallID: m.ToolCallID,
		}
	case "assistant":
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		return msg
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text}
	}
}

func convertTools(tools []provider.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func responseFromCompletion(out openai.ChatCompletionResponse) provider.Response {
	resp := provider.Response{
		Usage: provider.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}
	if len(out.Choices) == 0 {
		return resp
	}
	choice := out.Choices[0]
	resp.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}
	resp.StopReason = stopReasonFromFinish(string(choice.FinishReason))
	return resp
}

func stopReasonFromFinish(reason string) provider.StopReason {
	switch reason {
	case "tool_calls":
		return provider.StopToolUse
	case "length":
		return provider.StopMaxTokens
	default:
		return provider.StopEndTurn
	}
}

// consumeStream drains an OpenAI chat completion stream, emitting
// EventToken as content arrives and accumulating tool calls by index
// (OpenAI streams each tool call's id/name/arguments across chunks,
// keyed by a positional index rather than by id).
func (p *Provider) consumeStream(ctx context.Context, stream *openai.ChatCompletionStream, sink provider.Sink) (provider.Response, bool, error) {
	defer stream.Close()

	var content string
	var usage openai.Usage
	stopReason := provider.StopEndTurn
	toolCalls := map[int]*provider.ToolCall{}
	var order []int
	streamedToken := false

	for {
		if err := ctx.Err(); err != nil {
			return provider.Response{}, streamedToken, err
		}

		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return provider.Response{}, streamedToken, p.classify(err)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			content += choice.Delta.Content
			streamedToken = true
			emit(sink, provider.Event{Type: provider.EventToken, Token: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := toolCalls[idx]
			if !ok {
				call = &provider.ToolCall{}
				toolCalls[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, []byte(tc.Function.Arguments)...)
			}
		}
		if choice.FinishReason != "" {
			stopReason = stopReasonFromFinish(string(choice.FinishReason))
		}
	}

	resp := provider.Response{
		Content: content,
		Usage: provider.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		},
		StopReason: stopReason,
	}
	for _, idx := range order {
		resp.ToolCalls = append(resp.ToolCalls, *toolCalls[idx])
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
