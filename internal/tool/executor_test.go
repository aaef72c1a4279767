package tool

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name        string
	schema      string
	ann         Annotations
	result      Result
	err         error
	panics      bool
	calls       int
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub" }
func (s *stubTool) InputSchema() json.RawMessage { return json.RawMessage(s.schema) }
func (s *stubTool) Annotations() Annotations   { return s.ann }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage, tctx Context) (Result, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

type stubApproval struct {
	decision Decision
	err      error
	calls    int
}

func (s *stubApproval) Decide(ctx context.Context, toolName string, args json.RawMessage, ann Annotations) (Decision, error) {
	s.calls++
	return s.decision, s.err
}

func TestExecuteCallUnknownTool(t *testing.T) {
	registry := NewRegistry()
	approval := &stubApproval{decision: DecisionAllowOnce}
	executor := NewExecutor(registry, approval)

	result := executor.ExecuteCall(context.Background(), Call{Name: "missing"}, Context{})
	if !result.IsError || result.Text() != "unknown tool: missing" {
		t.Fatalf("result = %+v", result)
	}
	if approval.calls != 0 {
		t.Errorf("approval should not be consulted for an unknown tool")
	}
}

func TestExecuteCallValidationFailureSkipsApproval(t *testing.T) {
	registry := NewRegistry()
	tool := &stubTool{name: "echo", schema: `{"type":"object","required":["text"]}`}
	registry.Register(tool)
	approval := &stubApproval{decision: DecisionAllowOnce}
	executor := NewExecutor(registry, approval)

	result := executor.ExecuteCall(context.Background(), Call{Name: "echo", Arguments: json.RawMessage(`{}`)}, Context{})
	if !result.IsError {
		t.Fatalf("expected validation error, got %+v", result)
	}
	if approval.calls != 0 {
		t.Errorf("approval should not be consulted on validation failure")
	}
	if tool.calls != 0 {
		t.Errorf("tool should not execute on validation failure")
	}
}

func TestExecuteCallDeniedNeverRunsTool(t *testing.T) {
	registry := NewRegistry()
	tool := &stubTool{name: "delete_file", schema: `{"type":"object"}`}
	registry.Register(tool)
	approval := &stubApproval{decision: DecisionDeny}
	executor := NewExecutor(registry, approval)

	result := executor.ExecuteCall(context.Background(), Call{Name: "delete_file", Arguments: json.RawMessage(`{}`)}, Context{})
	if !result.IsError || result.Text() != "denied: delete_file" {
		t.Fatalf("result = %+v", result)
	}
	if tool.calls != 0 {
		t.Errorf("tool should not execute when denied")
	}
}

func TestExecuteCallSafeInternalBypassesApproval(t *testing.T) {
	registry := NewRegistry()
	tool := &stubTool{name: "delegate", schema: `{"type":"object"}`, ann: Annotations{SafeInternal: true}, result: TextResult("ok")}
	registry.Register(tool)
	approval := &stubApproval{decision: DecisionDeny}
	executor := NewExecutor(registry, approval)

	result := executor.ExecuteCall(context.Background(), Call{Name: "delegate", Arguments: json.RawMessage(`{}`)}, Context{})
	if result.IsError || result.Text() != "ok" {
		t.Fatalf("result = %+v", result)
	}
	if approval.calls != 0 {
		t.Errorf("approval should never be consulted for a safeInternal tool")
	}
}

func TestExecuteCallRecoversFromPanic(t *testing.T) {
	registry := NewRegistry()
	tool := &stubTool{name: "crashy", schema: `{"type":"object"}`, panics: true}
	registry.Register(tool)
	approval := &stubApproval{decision: DecisionAllowOnce}
	executor := NewExecutor(registry, approval)

	result := executor.ExecuteCall(context.Background(), Call{Name: "crashy", Arguments: json.RawMessage(`{}`)}, Context{})
	if !result.IsError {
		t.Fatalf("expected a panic to surface as an error result, got %+v", result)
	}
}

func TestExecuteCallSucceeds(t *testing.T) {
	registry := NewRegistry()
	tool := &stubTool{name: "echo", schema: `{"type":"object"}`, result: TextResult("hi")}
	registry.Register(tool)
	approval := &stubApproval{decision: DecisionAllowSession}
	executor := NewExecutor(registry, approval)

	result := executor.ExecuteCall(context.Background(), Call{Name: "echo", Arguments: json.RawMessage(`{}`)}, Context{})
	if result.IsError || result.Text() != "hi" {
		t.Fatalf("result = %+v", result)
	}
	if tool.calls != 1 {
		t.Errorf("tool.calls = %d, want 1", tool.calls)
	}
}

func TestExecuteCallNameTooLong(t *testing.T) {
	registry := NewRegistry()
	executor := NewExecutor(registry, nil)
	longName := make([]byte, MaxNameLength+1)
	for i := range longName {
		longName[i] = 'a'
	}
	result := executor.ExecuteCall(context.Background(), Call{Name: string(longName)}, Context{})
	if !result.IsError {
		t.Fatalf("expected an error for an over-long tool name")
	}
}
