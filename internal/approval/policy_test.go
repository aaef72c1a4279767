package approval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lacehq/lace/internal/tool"
)

func neverCalled(t *testing.T) InteractiveCallback {
	return func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		t.Fatalf("interactive callback should not have been consulted for %s", toolName)
		return tool.DecisionDeny, nil
	}
}

func TestDecideSafeInternalAllowsOnceWithoutPrompting(t *testing.T) {
	c := NewChain(Policy{DisableAllTools: true}, neverCalled(t))
	d, err := c.Decide(context.Background(), "delegate", nil, tool.Annotations{SafeInternal: true})
	if err != nil || d != tool.DecisionAllowOnce {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
}

func TestDecideDisableAllToolsDeniesRegardlessOfCallback(t *testing.T) {
	callback := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		return tool.DecisionAllowSession, nil
	}
	c := NewChain(Policy{DisableAllTools: true}, callback)
	d, err := c.Decide(context.Background(), "read", nil, tool.Annotations{})
	if err != nil || d != tool.DecisionDeny {
		t.Fatalf("Decide() = %v, %v, want deny", d, err)
	}
}

func TestDecideDisableToolsDeniesNamedTool(t *testing.T) {
	c := NewChain(Policy{DisableTools: []string{"exec"}}, neverCalled(t))
	d, err := c.Decide(context.Background(), "exec", nil, tool.Annotations{})
	if err != nil || d != tool.DecisionDeny {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
}

func TestDecideDisableToolsPatternMatch(t *testing.T) {
	c := NewChain(Policy{DisableTools: []string{"mcp:untrusted.*"}}, neverCalled(t))
	d, err := c.Decide(context.Background(), "mcp:untrusted.run", nil, tool.Annotations{})
	if err != nil || d != tool.DecisionDeny {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
}

func TestDecideDisableAllGuardrailsAllowsOnce(t *testing.T) {
	c := NewChain(Policy{DisableAllGuardrails: true}, neverCalled(t))
	d, err := c.Decide(context.Background(), "delete_file", nil, tool.Annotations{DestructiveHint: true})
	if err != nil || d != tool.DecisionAllowOnce {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
}

func TestDecideAutoApproveToolsAllowsOnce(t *testing.T) {
	c := NewChain(Policy{AutoApproveTools: []string{"read"}}, neverCalled(t))
	d, err := c.Decide(context.Background(), "read", nil, tool.Annotations{})
	if err != nil || d != tool.DecisionAllowOnce {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
}

func TestDecideAllowNonDestructiveSkipsPromptForReadOnly(t *testing.T) {
	c := NewChain(Policy{AllowNonDestructive: true}, neverCalled(t))
	d, err := c.Decide(context.Background(), "read", nil, tool.Annotations{ReadOnlyHint: true})
	if err != nil || d != tool.DecisionAllowOnce {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
}

func TestDecideAllowNonDestructiveDoesNotSkipOpenWorldTools(t *testing.T) {
	called := false
	callback := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		called = true
		return tool.DecisionAllowOnce, nil
	}
	c := NewChain(Policy{AllowNonDestructive: true}, callback)
	d, err := c.Decide(context.Background(), "websearch", nil, tool.Annotations{ReadOnlyHint: true, OpenWorldHint: true})
	if err != nil || d != tool.DecisionAllowOnce {
		t.Fatalf("Decide() = %v, %v", d, err)
	}
	if !called {
		t.Errorf("expected the interactive callback to be consulted for an openWorld tool")
	}
}

func TestDecideSessionCacheReturnsAllowSessionWithoutPrompting(t *testing.T) {
	calls := 0
	callback := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		calls++
		return tool.DecisionAllowSession, nil
	}
	c := NewChain(Policy{}, callback)

	first, err := c.Decide(context.Background(), "write", nil, tool.Annotations{})
	if err != nil || first != tool.DecisionAllowSession {
		t.Fatalf("Decide() first call = %v, %v", first, err)
	}

	second, err := c.Decide(context.Background(), "write", nil, tool.Annotations{})
	if err != nil || second != tool.DecisionAllowSession {
		t.Fatalf("Decide() second call = %v, %v", second, err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1 (second decision should come from the session cache)", calls)
	}
}

func TestDecideAllowOnceIsNeverCached(t *testing.T) {
	calls := 0
	callback := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		calls++
		return tool.DecisionAllowOnce, nil
	}
	c := NewChain(Policy{}, callback)

	for i := 0; i < 2; i++ {
		d, err := c.Decide(context.Background(), "write", nil, tool.Annotations{})
		if err != nil || d != tool.DecisionAllowOnce {
			t.Fatalf("Decide() = %v, %v", d, err)
		}
	}
	if calls != 2 {
		t.Errorf("callback called %d times, want 2 (allowOnce must never be cached)", calls)
	}
}

func TestDecideDenyIsNeverCached(t *testing.T) {
	calls := 0
	callback := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		calls++
		return tool.DecisionDeny, nil
	}
	c := NewChain(Policy{}, callback)

	for i := 0; i < 2; i++ {
		d, _ := c.Decide(context.Background(), "exec", nil, tool.Annotations{})
		if d != tool.DecisionDeny {
			t.Fatalf("Decide() = %v", d)
		}
	}
	if calls != 2 {
		t.Errorf("callback called %d times, want 2 (deny must never be cached)", calls)
	}
}

func TestDecideNoCallbackDenies(t *testing.T) {
	c := NewChain(Policy{}, nil)
	d, err := c.Decide(context.Background(), "write", nil, tool.Annotations{})
	if err != nil || d != tool.DecisionDeny {
		t.Fatalf("Decide() = %v, %v, want deny with no interactive callback configured", d, err)
	}
}

func TestDecideCallbackErrorPropagates(t *testing.T) {
	wantErr := errors.New("prompt timed out")
	callback := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		return tool.DecisionDeny, wantErr
	}
	c := NewChain(Policy{}, callback)
	_, err := c.Decide(context.Background(), "write", nil, tool.Annotations{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Decide() err = %v, want %v", err, wantErr)
	}
}

// TestDecidePrecedencePropertyDisableAllToolsAlwaysWins checks the exact
// property from the spec's test matrix: for every (policy, tool) pair
// where disableAllTools=true or tool is in disableTools, the decision is
// deny regardless of what the interactive callback would have returned.
func TestDecidePrecedencePropertyDisableAllToolsAlwaysWins(t *testing.T) {
	alwaysAllow := func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error) {
		return tool.DecisionAllowSession, nil
	}

	policies := []Policy{
		{DisableAllTools: true},
		{DisableAllTools: true, DisableAllGuardrails: true, AutoApproveTools: []string{"read"}, AllowNonDestructive: true},
		{DisableTools: []string{"read"}},
		{DisableTools: []string{"read"}, AutoApproveTools: []string{"read"}, AllowNonDestructive: true, DisableAllGuardrails: true},
	}
	tools := []struct {
		name string
		ann  tool.Annotations
	}{
		{"read", tool.Annotations{ReadOnlyHint: true}},
		{"write", tool.Annotations{}},
	}

	for _, p := range policies {
		for _, tc := range tools {
			if !p.DisableAllTools && !matches(p.DisableTools, tc.name) {
				continue
			}
			c := NewChain(p, alwaysAllow)
			d, err := c.Decide(context.Background(), tc.name, nil, tc.ann)
			if err != nil || d != tool.DecisionDeny {
				t.Errorf("policy=%+v tool=%s: Decide() = %v, %v, want deny", p, tc.name, d, err)
			}
		}
	}
}
