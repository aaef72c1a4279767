package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits, preventing resource exhaustion from a malformed
// or hostile tool call.
const (
	// MaxNameLength is the maximum length of a tool name.
	MaxNameLength = 256

	// MaxParamsSize is the maximum size of a tool call's arguments JSON
	// (10MB).
	MaxParamsSize = 10 << 20
)

// Decision is the outcome of an ApprovalPolicy evaluation for one call.
type Decision string

const (
	DecisionDeny         Decision = "deny"
	DecisionAllowOnce    Decision = "allow_once"
	DecisionAllowSession Decision = "allow_session"
)

// ApprovalPolicy is the subset of the approval package's Policy the
// Executor depends on, kept as an interface here to avoid a tool→approval
// import cycle (approval imports tool for Annotations).
type ApprovalPolicy interface {
	Decide(ctx context.Context, toolName string, args json.RawMessage, ann Annotations) (Decision, error)
}

// Executor runs tool calls against a Registry, enforcing the executeCall
// algorithm: lookup, schema validation, approval, execution, result.
type Executor struct {
	registry *Registry
	approval ApprovalPolicy
	schemas  *schemaCache
}

// NewExecutor returns an Executor backed by registry and approval.
func NewExecutor(registry *Registry, approval ApprovalPolicy) *Executor {
	return &Executor{registry: registry, approval: approval, schemas: newSchemaCache()}
}

// ExecuteCall runs a single tool call through the five-step algorithm:
// lookup, schema validation, approval, execution, result. Lookup and
// validation failures, and denials, never invoke the tool or (in the
// lookup/validation case) the approval callback.
func (e *Executor) ExecuteCall(ctx context.Context, call Call, tctx Context) Result {
	if len(call.Name) > MaxNameLength {
		return ErrorResult(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxNameLength))
	}
	if len(call.Arguments) > MaxParamsSize {
		return ErrorResult(fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxParamsSize))
	}

	t, ok := e.registry.Get(call.Name)
	if !ok {
		return ErrorResult("unknown tool: " + call.Name)
	}

	if err := e.validate(t, call.Arguments); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	ann := t.Annotations()
	if !ann.SafeInternal && e.approval != nil {
		decision, err := e.approval.Decide(ctx, call.Name, call.Arguments, ann)
		if err != nil {
			return ErrorResult(fmt.Sprintf("approval check failed for %s: %v", call.Name, err))
		}
		if decision == DecisionDeny {
			return ErrorResult("denied: " + call.Name)
		}
	}

	result, err := e.safeExecute(ctx, t, call.Arguments, tctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("tool %s failed: %v", call.Name, err))
	}
	return result
}

// safeExecute runs t.Execute, converting a panic into an error result
// rather than propagating it — a tool bug must never take down a turn.
func (e *Executor) safeExecute(ctx context.Context, t Tool, args json.RawMessage, tctx Context) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Execute(ctx, args, tctx)
}

func (e *Executor) validate(t Tool, args json.RawMessage) error {
	schema, err := e.schemas.compile(t.Name(), t.InputSchema())
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	var doc any
	payload := args
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// schemaCache compiles each tool's input schema once and reuses it across
// calls; schema compilation is comparatively expensive and schemas are
// immutable for a tool's lifetime.
type schemaCache struct {
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if s, ok := c.compiled[name]; ok {
		return s, nil
	}

	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", name, err)
	}
	c.compiled[name] = schema
	return schema, nil
}
