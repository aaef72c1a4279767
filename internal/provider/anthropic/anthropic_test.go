package anthropic

import (
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/lacehq/lace/internal/provider"
)

func TestConvertMessagesRejectsUnknownRole(t *testing.T) {
	_, err := convertMessages([]provider.Message{{Role: "system", Text: "hi"}})
	if err == nil {
		t.Fatalf("expected error for unsupported role")
	}
}

func TestConvertMessagesUserAndToolRoles(t *testing.T) {
	out, err := convertMessages([]provider.Message{
		{Role: "user", Text: "hello"},
		{Role: "tool", Text: "result", ToolCallID: "call-1"},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestDecodeArgsInvalidJSONFallsBackToEmptyObject(t *testing.T) {
	got := decodeArgs([]byte("not json"))
	m, ok := got.(map[string]any)
	if !ok || len(m) != 0 {
		t.Errorf("decodeArgs(invalid) = %#v, want empty map", got)
	}
}

func TestStopReasonFromAnthropic(t *testing.T) {
	cases := map[anthropic.StopReason]provider.StopReason{
		anthropic.StopReasonToolUse:   provider.StopToolUse,
		anthropic.StopReasonMaxTokens: provider.StopMaxTokens,
		anthropic.StopReasonEndTurn:   provider.StopEndTurn,
	}
	for reason, want := range cases {
		if got := stopReasonFromAnthropic(reason); got != want {
			t.Errorf("stopReasonFromAnthropic(%v) = %v, want %v", reason, got, want)
		}
	}
}

func TestResponseFromMessageNil(t *testing.T) {
	if got := responseFromMessage(nil); got.Content != "" {
		t.Errorf("responseFromMessage(nil) = %+v, want zero value", got)
	}
}
