// Package delegation implements the "delegate" tool and the manager
// behind it: spawning a child agent on a child thread to work a
// sub-task, then folding its final answer back into the parent's
// TOOL_RESULT. It is the host-internal mechanism behind the spec's
// DelegationManager.
package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lacehq/lace/internal/agent"
	"github.com/lacehq/lace/internal/budget"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/queue"
	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/internal/tool"
	"github.com/lacehq/lace/pkg/models"
)

// DefaultMaxDepth bounds thread-id lineage depth: a delegate call whose
// child thread would reach this depth (a root id has depth 0) is refused
// rather than spawning the child, the anti-cycle guard the spec calls for.
const DefaultMaxDepth = 4

// ProviderResolver resolves a provider/model hint from a delegate call
// into the Provider to run the child turn against. Returning the default
// provider for an empty or unrecognized hint is expected.
type ProviderResolver func(providerName, model string) (provider.Provider, error)

// Manager spawns and runs child agents on behalf of the delegate tool.
type Manager struct {
	Store                    thread.Store
	Providers                ProviderResolver
	Tools                    *tool.Registry
	Approval                 tool.ApprovalPolicy
	MaxTokens                int
	MaxDepth                 int
	AllowRecursiveDelegation bool

	// OnChildEvent, if set, observes every event emitted by a child agent,
	// for UIs that want to surface delegated work as it happens.
	OnChildEvent agent.Sink

	mu       sync.Mutex
	childSeq map[models.ThreadID]int
}

// New returns a Manager. tools is the registry child agents execute
// against; when AllowRecursiveDelegation is false (the default), the
// delegate tool itself is withheld from children so a delegated agent
// cannot itself delegate.
func New(store thread.Store, providers ProviderResolver, tools *tool.Registry, approval tool.ApprovalPolicy) *Manager {
	return &Manager{
		Store:     store,
		Providers: providers,
		Tools:     tools,
		Approval:  approval,
		MaxTokens: 100000,
		MaxDepth:  DefaultMaxDepth,
		childSeq:  make(map[models.ThreadID]int),
	}
}

// Delegate runs task as a new turn on a fresh child thread of parentID and
// returns the child's final answer along with the child thread id. It
// blocks until the child turn completes, is aborted (ctx cancelled), or
// fails.
func (m *Manager) Delegate(ctx context.Context, parentID models.ThreadID, task, providerName, model string) (string, models.ThreadID, error) {
	if parentID.Depth()+1 >= m.MaxDepth {
		return "", "", fmt.Errorf("delegation: max delegation depth (%d) reached at %s", m.MaxDepth, parentID)
	}

	childID := m.nextChild(parentID)

	prov, err := m.Providers(providerName, model)
	if err != nil {
		return "", "", fmt.Errorf("delegation: resolving provider: %w", err)
	}

	executor := tool.NewExecutor(m.childTools(), m.Approval)

	// SendMessage runs the turn synchronously to completion (or failure, or
	// abort) when the agent is idle, which a freshly constructed child
	// always is, so there is no separate completion signal to wait on here.
	child := agent.New(agent.Config{
		ThreadID:     childID,
		Store:        m.Store,
		Provider:     prov,
		Executor:     executor,
		Budget:       budget.New(budget.Config{MaxTokens: m.MaxTokens, WarningThreshold: 0.8}),
		Queue:        queue.New(16),
		SystemPrompt: "You are a sub-agent. Complete the delegated task and reply with only the final answer.",
		Sink:         m.OnChildEvent,
	})

	if err := child.SendMessage(ctx, task, models.SourceUser, models.PriorityNormal); err != nil {
		return "", childID, fmt.Errorf("delegation: child turn failed: %w", err)
	}

	finalText, err := lastAgentMessage(ctx, m.Store, childID)
	if err != nil {
		return "", childID, err
	}
	return finalText, childID, nil
}

// childTools returns the registry child agents execute against: the full
// registry, minus "delegate" itself unless recursive delegation is
// explicitly allowed.
func (m *Manager) childTools() *tool.Registry {
	if m.AllowRecursiveDelegation {
		return m.Tools
	}
	restricted := tool.NewRegistry()
	for _, t := range m.Tools.GetAllTools() {
		if t.Name() == ToolName {
			continue
		}
		restricted.Register(t)
	}
	return restricted
}

// nextChild picks the next unused child suffix of parentID by scanning
// existing threads rather than keeping authoritative state nowhere else
// visible, so it stays correct even if the manager is reconstructed.
func (m *Manager) nextChild(parentID models.ThreadID) models.ThreadID {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.childSeq[parentID] + 1
	if existing, err := m.Store.Threads(context.Background()); err == nil {
		prefix := string(parentID) + "."
		for _, id := range existing {
			s := string(id)
			if !strings.HasPrefix(s, prefix) {
				continue
			}
			rest := s[len(prefix):]
			if strings.Contains(rest, ".") {
				continue
			}
			if k, err := strconv.Atoi(rest); err == nil && k >= n {
				n = k + 1
			}
		}
	}
	m.childSeq[parentID] = n
	return parentID.Child(n)
}

func lastAgentMessage(ctx context.Context, store thread.Store, threadID models.ThreadID) (string, error) {
	events, err := store.Events(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("delegation: reading child thread %s: %w", threadID, err)
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != models.EventAgentMessage {
			continue
		}
		var d models.MessageData
		if err := json.Unmarshal(events[i].Data, &d); err != nil {
			return "", fmt.Errorf("delegation: decoding child reply: %w", err)
		}
		return d.Text, nil
	}
	return "", fmt.Errorf("delegation: child thread %s produced no reply", threadID)
}
