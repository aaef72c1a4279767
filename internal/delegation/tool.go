package delegation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lacehq/lace/internal/tool"
	"github.com/lacehq/lace/pkg/models"
)

// ToolName is the name the delegate tool is registered under.
const ToolName = "delegate"

// delegateInputSchema is the JSON Schema for the delegate tool's
// arguments: a task description (or its alias prompt) plus an optional
// provider/model override. The schema marks no field required; Execute
// rejects a call that has neither task nor prompt.
const delegateInputSchema = `{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "The task or prompt to hand to a sub-agent"},
    "prompt": {"type": "string", "description": "Alias for task"},
    "provider": {"type": "string", "description": "Provider name override for the sub-agent, defaults to the parent's"},
    "model": {"type": "string", "description": "Model override for the sub-agent, defaults to the provider's default"}
  }
}`

// Input is the delegate tool's decoded arguments.
type Input struct {
	Task     string `json:"task"`
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Tool is the host-internal "delegate" tool: it spins up a child agent on
// a child thread, runs it to completion against the given task, and
// returns its final answer as the tool result, with the child thread id
// recorded in the result's metadata.
type Tool struct {
	manager *Manager
}

// NewTool returns the delegate tool backed by manager.
func NewTool(manager *Manager) *Tool {
	return &Tool{manager: manager}
}

func (t *Tool) Name() string        { return ToolName }
func (t *Tool) Description() string { return "Delegate a sub-task to a fresh sub-agent and return its final answer." }
func (t *Tool) InputSchema() json.RawMessage { return json.RawMessage(delegateInputSchema) }

// Annotations marks delegate as host-internal: it bypasses the approval
// chain unconditionally (precedence step 1), since it never touches the
// user's system or data directly, only spawns another agent turn.
func (t *Tool) Annotations() tool.Annotations {
	return tool.Annotations{SafeInternal: true, OpenWorldHint: true}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage, tctx tool.Context) (tool.Result, error) {
	var in Input
	if err := json.Unmarshal(args, &in); err != nil {
		return tool.ErrorResult(fmt.Sprintf("delegate: invalid arguments: %v", err)), nil
	}

	task := in.Task
	if task == "" {
		task = in.Prompt
	}
	if task == "" {
		return tool.ErrorResult("delegate: task (or prompt) is required"), nil
	}

	parentID := models.ThreadID(tctx.ThreadID)
	answer, childID, err := t.manager.Delegate(ctx, parentID, task, in.Provider, in.Model)
	if err != nil {
		return tool.ErrorResult(err.Error()), nil
	}

	return tool.Result{
		Content:  []tool.ResultContent{{Type: "text", Text: answer}},
		Metadata: map[string]any{"threadId": string(childID)},
	}, nil
}
