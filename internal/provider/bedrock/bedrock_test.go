package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/lacehq/lace/internal/provider"
)

func TestConvertMessagesRejectsUnknownRole(t *testing.T) {
	_, err := convertMessages([]provider.Message{{Role: "system", Text: "hi"}})
	if err == nil {
		t.Fatalf("expected error for unsupported role")
	}
}

func TestConvertMessagesToolResultStatus(t *testing.T) {
	out, err := convertMessages([]provider.Message{
		{Role: "tool", Text: "boom", ToolCallID: "call-1", IsError: true},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}

func TestStopReasonFromBedrock(t *testing.T) {
	cases := map[types.StopReason]provider.StopReason{
		types.StopReasonToolUse:   provider.StopToolUse,
		types.StopReasonMaxTokens: provider.StopMaxTokens,
		types.StopReasonEndTurn:   provider.StopEndTurn,
	}
	for reason, want := range cases {
		if got := stopReasonFromBedrock(reason); got != want {
			t.Errorf("stopReasonFromBedrock(%v) = %v, want %v", reason, got, want)
		}
	}
}

func TestDecodeArgsInvalidJSONFallsBackToEmptyObject(t *testing.T) {
	got := decodeArgs([]byte("not json"))
	m, ok := got.(map[string]any)
	if !ok || len(m) != 0 {
		t.Errorf("decodeArgs(invalid) = %#v, want empty map", got)
	}
}
