// Package approval implements the ApprovalPolicy decision chain from the
// Lace spec: a layered, precedence-ordered function from (tool, policy
// snapshot, annotations) to a Decision, backed by an interactive callback
// and a per-session cache for allowSession grants.
package approval

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/lacehq/lace/internal/tool"
)

// InteractiveCallback prompts the user for a decision on a tool call that
// no earlier precedence step resolved. It is the last resort in the chain.
type InteractiveCallback func(ctx context.Context, toolName string, args json.RawMessage) (tool.Decision, error)

// Policy is the configuration snapshot the decision chain is evaluated
// against. A zero-value Policy falls through every automatic step and
// always consults the interactive callback.
type Policy struct {
	// DisableAllTools denies every non-safeInternal tool outright.
	DisableAllTools bool

	// DisableTools names tools that are always denied.
	DisableTools []string

	// AutoApproveTools names tools that are always allowed for one call
	// without prompting.
	AutoApproveTools []string

	// AllowNonDestructive auto-approves tools annotated read-only and not
	// openWorld, without prompting.
	AllowNonDestructive bool

	// DisableAllGuardrails auto-approves every tool that DisableAllTools
	// and DisableTools have not already denied, bypassing the interactive
	// callback entirely. Intended for trusted/scripted runs.
	DisableAllGuardrails bool
}

func matches(list []string, name string) bool {
	for _, pattern := range list {
		if matchToolPattern(pattern, name) {
			return true
		}
	}
	return false
}

// Chain implements tool.ApprovalPolicy, evaluating the eight-step
// precedence chain from the spec against a Policy snapshot plus a
// per-session cache of prior allowSession grants.
type Chain struct {
	mu       sync.Mutex
	policy   Policy
	callback InteractiveCallback
	session  map[string]bool // toolName -> allowSession granted this session
}

// NewChain returns a Chain evaluating policy, falling back to callback
// when no automatic step resolves a call.
func NewChain(policy Policy, callback InteractiveCallback) *Chain {
	return &Chain{
		policy:   policy,
		callback: callback,
		session:  make(map[string]bool),
	}
}

// SetPolicy replaces the policy snapshot the chain evaluates against.
func (c *Chain) SetPolicy(policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

// Decide runs the eight-step precedence chain. Step order is significant:
// earlier steps never consult later ones, including the interactive
// callback, so a deny from step 2 or 3 can never be overridden by a user
// decision.
func (c *Chain) Decide(ctx context.Context, toolName string, args json.RawMessage, ann tool.Annotations) (tool.Decision, error) {
	// Step 1: safeInternal tools bypass this chain in the Executor before
	// Decide is even called, but honor it here too for direct callers.
	if ann.SafeInternal {
		return tool.DecisionAllowOnce, nil
	}

	c.mu.Lock()
	policy := c.policy
	c.mu.Unlock()

	if policy.DisableAllTools {
		return tool.DecisionDeny, nil
	}
	if matches(policy.DisableTools, toolName) {
		return tool.DecisionDeny, nil
	}
	if policy.DisableAllGuardrails {
		return tool.DecisionAllowOnce, nil
	}
	if matches(policy.AutoApproveTools, toolName) {
		return tool.DecisionAllowOnce, nil
	}
	if policy.AllowNonDestructive && ann.ReadOnlyHint && !ann.OpenWorldHint {
		return tool.DecisionAllowOnce, nil
	}

	c.mu.Lock()
	cached := c.session[toolName]
	c.mu.Unlock()
	if cached {
		return tool.DecisionAllowSession, nil
	}

	if c.callback == nil {
		return tool.DecisionDeny, nil
	}
	decision, err := c.callback(ctx, toolName, args)
	if err != nil {
		return tool.DecisionDeny, err
	}
	if decision == tool.DecisionAllowSession {
		c.mu.Lock()
		c.session[toolName] = true
		c.mu.Unlock()
	}
	return decision, nil
}

// matchToolPattern supports the same glob-lite patterns the disable/
// auto-approve lists accept: "*" matches anything, a trailing ".*"
// matches a namespace prefix, anything else is an exact match.
func matchToolPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}
