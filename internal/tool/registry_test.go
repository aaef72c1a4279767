package tool

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	tool := &stubTool{name: "echo"}
	r.Register(tool)

	got, ok := r.Get("echo")
	if !ok || got.Name() != "echo" {
		t.Fatalf("Get() = %v, %v", got, ok)
	}

	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Fatalf("expected tool to be gone after Unregister")
	}
}

func TestRegistryGetAllTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})
	if got := len(r.GetAllTools()); got != 2 {
		t.Fatalf("len(GetAllTools()) = %d, want 2", got)
	}
}

func TestRegistryFilterByCapability(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "reader", ann: Annotations{ReadOnlyHint: true}})
	r.Register(&stubTool{name: "writer", ann: Annotations{ReadOnlyHint: false}})

	readOnly := r.FilterByCapability(func(a Annotations) bool { return a.ReadOnlyHint })
	if len(readOnly) != 1 || readOnly[0].Name() != "reader" {
		t.Fatalf("FilterByCapability() = %+v", readOnly)
	}
}

func TestRegistryRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first := &stubTool{name: "echo", result: TextResult("first")}
	second := &stubTool{name: "echo", result: TextResult("second")}
	r.Register(first)
	r.Register(second)

	got, _ := r.Get("echo")
	result, _ := got.Execute(context.Background(), json.RawMessage(`{}`), Context{})
	if result.Text() != "second" {
		t.Fatalf("expected the later registration to win, got %q", result.Text())
	}
}
