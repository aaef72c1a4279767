// Package provider defines the uniform contract Lace speaks to every LLM
// backend through, plus the retry policy shared by all of them. Concrete
// adapters (anthropic, openai, bedrock) live in their own subpackages and
// satisfy Provider.
package provider

import (
	"context"
)

// ToolDef describes a tool available to the model, in provider-neutral
// form. Concrete adapters translate this into their SDK's own schema type.
type ToolDef struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON schema
}

// Message is a single provider-neutral turn of conversation. Role is
// "user", "assistant", or "tool"; ToolCallID/ToolName are set only for
// role "tool" (a tool result being fed back to the model).
type Message struct {
	Role       string
	Text       string
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCall // set on assistant messages that invoked tools
	IsError    bool       // set on role "tool" when the call failed
}

// ToolCall is one invocation the model asked the host to perform.
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON arguments
}

// Usage reports token accounting for a single request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StopReason says why the model stopped producing output.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Response is a provider-neutral completion, streamed or not.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason StopReason
}

// Request bundles everything a provider needs to produce a Response.
type Request struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDef
	MaxTokens    int
}

// Event is emitted during a (possibly streaming) call for observability:
// telemetry, UI token rendering, and agent-level progress events all
// subscribe through the same Sink.
type Event struct {
	Type  EventType
	Token string // set for EventToken
	Err   error  // set for EventError
	// Attempt/MaxAttempts are set for EventRetryAttempt/EventRetryExhausted.
	Attempt    int
	MaxAttempts int
	Response   *Response // set for EventComplete
}

// EventType discriminates Event.
type EventType string

const (
	EventRetryAttempt   EventType = "retry_attempt"
	EventRetryExhausted EventType = "retry_exhausted"
	EventToken          EventType = "token"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Sink receives Events during a call. Implementations must not block for
// long: the provider goroutine delivers events synchronously as they
// occur.
type Sink func(Event)

// Provider is the uniform contract every LLM backend implements. An Agent
// holds one Provider per thread and never reaches into a concrete adapter
// directly.
type Provider interface {
	// Name identifies the provider, e.g. "anthropic".
	Name() string

	// DefaultModel returns the model id used when the caller doesn't pin
	// one explicitly.
	DefaultModel() string

	// SupportsStreaming reports whether CreateStreamingResponse is
	// meaningfully different from CreateResponse for this provider.
	SupportsStreaming() bool

	// CountTokens estimates the token cost of req without making a
	// network call. Providers that can't estimate precisely fall back to
	// a character-based heuristic.
	CountTokens(req Request) int

	// CreateResponse performs a single non-streaming call, retrying
	// transient failures per the provider's retry policy. sink may be nil.
	CreateResponse(ctx context.Context, req Request, sink Sink) (Response, error)

	// CreateStreamingResponse performs a call that delivers EventToken
	// events as content arrives, retrying transient failures only before
	// the first token of this attempt has been delivered. sink may be nil
	// only if the caller has no use for intermediate tokens, but then
	// CreateResponse should be preferred.
	CreateStreamingResponse(ctx context.Context, req Request, sink Sink) (Response, error)
}
