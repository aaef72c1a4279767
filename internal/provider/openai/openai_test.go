package openai

import (
	"testing"

	"github.com/lacehq/lace/internal/provider"
	openai "github.com/sashabaranov/go-openai"
)

func TestConvertToolsFallsBackToEmptySchemaOnInvalidJSON(t *testing.T) {
	tools := convertTools([]provider.ToolDef{
		{Name: "broken", Description: "d", InputSchema: []byte("not json")},
	})
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(tools))
	}
	if tools[0].Function.Name != "broken" {
		t.Errorf("Name = %q, want broken", tools[0].Function.Name)
	}
	schema, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Errorf("expected empty object schema fallback, got %+v", tools[0].Function.Parameters)
	}
}

func TestStopReasonFromFinish(t *testing.T) {
	cases := map[string]provider.StopReason{
		"tool_calls": provider.StopToolUse,
		"length":     provider.StopMaxTokens,
		"stop":       provider.StopEndTurn,
		"":           provider.StopEndTurn,
	}
	for reason, want := range cases {
		if got := stopReasonFromFinish(reason); got != want {
			t.Errorf("stopReasonFromFinish(%q) = %v, want %v", reason, got, want)
		}
	}
}

func TestConvertMessageToolRole(t *testing.T) {
	msg := convertMessage(provider.Message{Role: "tool", Text: "42", ToolCallID: "call-1"})
	if msg.Role != openai.ChatMessageRoleTool || msg.ToolCallID != "call-1" || msg.Content != "42" {
		t.Errorf("convertMessage(tool) = %+v", msg)
	}
}

func TestConvertMessageAssistantWithToolCalls(t *testing.T) {
	msg := convertMessage(provider.Message{
		Role: "assistant",
		Text: "thinking",
		ToolCalls: []provider.ToolCall{
			{ID: "call-1", Name: "search", Input: []byte(`{"q":"go"}`)},
		},
	})
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("convertMessage(assistant) = %+v", msg)
	}
}

func TestResponseFromCompletionNoChoices(t *testing.T) {
	resp := responseFromCompletion(openai.ChatCompletionResponse{})
	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Errorf("expected zero-value response for no choices, got %+v", resp)
	}
}
