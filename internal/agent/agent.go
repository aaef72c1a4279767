// Package agent implements the Agent turn state machine described in the
// Lace core spec: idle -> thinking -> (streaming | tool_execution) -> idle,
// terminating in stopped. One Agent drives one thread against one
// Provider, appending events to a thread.Store and running tool calls
// through a tool.Executor.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lacehq/lace/internal/budget"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/queue"
	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/internal/tool"
	"github.com/lacehq/lace/pkg/models"
)

// State is a node in the Agent's turn state machine.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateStreaming     State = "streaming"
	StateToolExecution State = "tool_execution"
	StateStopped       State = "stopped"
)

// EventType discriminates the payload of an observable Event.
type EventType string

const (
	EventStateChange      EventType = "state_change"
	EventTurnStart        EventType = "turn_start"
	EventTurnProgress     EventType = "turn_progress"
	EventAgentToken       EventType = "agent_token"
	EventThinkingStart    EventType = "agent_thinking_start"
	EventThinkingComplete EventType = "agent_thinking_complete"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallComplete EventType = "tool_call_complete"
	EventRetryAttempt     EventType = "retry_attempt"
	EventRetryExhausted   EventType = "retry_exhausted"
	EventTurnComplete     EventType = "turn_complete"
	EventTurnAborted      EventType = "turn_aborted"
	EventTokenUsageUpdate EventType = "token_usage_update"
	EventBudgetWarning    EventType = "token_budget_warning"
	EventError            EventType = "error"
)

// Event is one observable notification emitted during a turn.
type Event struct {
	Type       EventType
	ThreadID   models.ThreadID
	TurnID     string
	State      State
	ElapsedMs  int64
	Token      string
	ToolCallID string
	ToolName   string
	Result     *tool.Result
	Metrics    *models.TurnMetrics
	Usage      budget.Usage
	Message    string
	Err        error
}

// Sink receives Agent events. Implementations must not block.
type Sink func(Event)

// Compactor condenses the oldest events of a thread when the token budget
// recommends it, or on an explicit request. Declared here, implemented by
// the compaction package, to avoid an agent<->compaction import cycle.
type Compactor interface {
	Compact(ctx context.Context, threadID models.ThreadID) error
}

// Config bundles an Agent's fixed dependencies and configuration.
type Config struct {
	ThreadID      models.ThreadID
	Store         thread.Store
	Provider      provider.Provider
	Executor      *tool.Executor
	Tools         []provider.ToolDef
	Budget        *budget.Budget
	Queue         *queue.Queue
	Compactor     Compactor // may be nil: an over-budget request then ends the turn with BudgetExceededError; no truncation is applied
	SystemPrompt  string
	WorkingDir    string
	Sink          Sink
	MaxTurnToolCalls int // 0 means unlimited
}

// Agent drives one thread's turn loop: append USER_MESSAGE, call the
// provider, run any tool calls, and loop until the provider returns with
// no further tool calls.
type Agent struct {
	cfg Config

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	turnSeq int
}

// New returns an idle Agent wired to cfg. The system prompt is fixed at
// construction, per the spec's "computed once at init" rule; callers that
// reparent an agent to a new session/project must construct a new one (or
// call SetSystemPrompt explicitly) rather than expecting per-turn refresh.
func New(cfg Config) *Agent {
	return &Agent{cfg: cfg, state: StateIdle}
}

// State returns the agent's current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetSystemPrompt updates the prompt used for subsequent turns, for use
// when the agent is reparented to a new session or project.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.SystemPrompt = prompt
}

func (a *Agent) emit(e Event) {
	if a.cfg.Sink == nil {
		return
	}
	e.ThreadID = a.cfg.ThreadID
	a.cfg.Sink(e)
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.emit(Event{Type: EventStateChange, State: s})
}

// SendMessage is the turn algorithm's entry point. If the agent isn't
// idle, the message is enqueued and processed once the current turn (and
// any queued backlog ahead of it) drains.
func (a *Agent) SendMessage(ctx context.Context, text string, source models.MessageSource, priority models.MessagePriority) error {
	a.mu.Lock()
	busy := a.state != StateIdle
	a.mu.Unlock()

	if busy {
		if a.cfg.Queue == nil {
			return fmt.Errorf("agent: busy and no queue configured")
		}
		return a.cfg.Queue.Enqueue(models.QueuedMessage{
			ID:         uuid.NewString(),
			Content:    text,
			Source:     source,
			Priority:   priority,
			EnqueuedAt: time.Now(),
		})
	}
	return a.runTurn(ctx, text)
}

// Abort cancels the in-flight provider/tool work for the current turn, if
// any, and returns the agent to idle. It is idempotent: calling it on an
// idle agent is a no-op that returns false.
func (a *Agent) Abort() bool {
	a.mu.Lock()
	if a.state == StateIdle || a.state == StateStopped {
		a.mu.Unlock()
		return false
	}
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// Stop transitions the agent to the terminal stopped state. A stopped
// agent never runs another turn.
func (a *Agent) Stop() {
	a.Abort()
	a.setState(StateStopped)
}

func (a *Agent) runTurn(ctx context.Context, text string) error {
	a.mu.Lock()
	a.turnSeq++
	turnID := fmt.Sprintf("%s-turn-%d", a.cfg.ThreadID, a.turnSeq)
	turnCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	started := time.Now()
	a.setState(StateThinking)
	a.emit(Event{Type: EventTurnStart, TurnID: turnID})

	metrics := &models.TurnMetrics{TurnID: turnID, StartedAt: started}

	if _, err := a.append(turnCtx, models.EventUserMessage, models.MessageData{Text: text}); err != nil {
		return a.fail(turnID, started, err)
	}

	toolCallBudget := a.cfg.MaxTurnToolCalls
	for round := 0; ; round++ {
		if toolCallBudget > 0 && round >= toolCallBudget {
			return a.fail(turnID, started, fmt.Errorf("agent: exceeded max tool-call rounds (%d) for turn %s", toolCallBudget, turnID))
		}

		messages, err := a.project(turnCtx)
		if err != nil {
			return a.fail(turnID, started, err)
		}

		req := provider.Request{
			Messages:     messages,
			SystemPrompt: a.cfg.SystemPrompt,
			Tools:        a.cfg.Tools,
			MaxTokens:    4096,
		}

		estimate := a.cfg.Provider.CountTokens(req)
		if a.cfg.Budget != nil && !a.cfg.Budget.CanMakeRequest(estimate) {
			if a.cfg.Compactor != nil {
				if err := a.cfg.Compactor.Compact(turnCtx, a.cfg.ThreadID); err != nil {
					a.emit(Event{Type: EventBudgetWarning, TurnID: turnID, Message: "compaction failed: " + err.Error()})
				} else {
					messages, err = a.project(turnCtx)
					if err != nil {
						return a.fail(turnID, started, err)
					}
					req.Messages = messages
					estimate = a.cfg.Provider.CountTokens(req)
				}
			} else {
				a.emit(Event{Type: EventBudgetWarning, TurnID: turnID, Message: "token budget exceeded and no compactor configured"})
			}

			if !a.cfg.Budget.CanMakeRequest(estimate) {
				rec := a.cfg.Budget.Recommendations()
				return a.fail(turnID, started, &BudgetExceededError{
					Estimated:        estimate,
					Limit:            rec.MaxRequestSize + a.cfg.Budget.Used(),
					RecommendCompact: a.cfg.Compactor != nil,
				})
			}
		}

		resp, retryMetrics, err := a.callProvider(turnCtx, turnID, req)
		metrics.RetryMetrics = retryMetrics
		if err != nil {
			if turnCtx.Err() != nil {
				return a.aborted(turnID, started, metrics)
			}
			return a.fail(turnID, started, classifyProviderError(a.cfg.Provider.Name(), err))
		}

		if a.cfg.Budget != nil {
			a.cfg.Budget.Record(budget.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens})
			a.emit(Event{Type: EventTokenUsageUpdate, TurnID: turnID, Usage: budget.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}})
			if a.cfg.Budget.IsNearLimit() {
				a.emit(Event{Type: EventBudgetWarning, TurnID: turnID, Message: a.cfg.Budget.Recommendations().WarningMessage})
			}
		}
		metrics.TokensIn += resp.Usage.PromptTokens
		metrics.TokensOut += resp.Usage.CompletionTokens

		if resp.Content != "" {
			if _, err := a.append(turnCtx, models.EventAgentMessage, models.MessageData{Text: resp.Content}); err != nil {
				return a.fail(turnID, started, err)
			}
		}
		for _, tc := range resp.ToolCalls {
			if _, err := a.append(turnCtx, models.EventToolCall, models.ToolCallData{ID: tc.ID, Name: tc.Name, Arguments: json.RawMessage(tc.Input)}); err != nil {
				return a.fail(turnID, started, err)
			}
		}

		if len(resp.ToolCalls) == 0 {
			metrics.ElapsedMs = time.Since(started).Milliseconds()
			a.setState(StateIdle)
			a.emit(Event{Type: EventTurnComplete, TurnID: turnID, Metrics: metrics})
			a.drainQueue(ctx)
			return nil
		}

		if err := a.runToolCalls(turnCtx, turnID, resp.ToolCalls); err != nil {
			if turnCtx.Err() != nil {
				return a.aborted(turnID, started, metrics)
			}
			return a.fail(turnID, started, err)
		}
	}
}

func (a *Agent) callProvider(ctx context.Context, turnID string, req provider.Request) (provider.Response, models.RetryMetrics, error) {
	metrics := models.RetryMetrics{}
	providerSink := func(ev provider.Event) {
		switch ev.Type {
		case provider.EventToken:
			a.setState(StateStreaming)
			a.emit(Event{Type: EventAgentToken, TurnID: turnID, Token: ev.Token})
		case provider.EventRetryAttempt:
			metrics.Attempts = ev.Attempt
			if ev.Err != nil {
				metrics.LastError = ev.Err.Error()
			}
			a.emit(Event{Type: EventRetryAttempt, TurnID: turnID, Message: fmt.Sprintf("attempt %d/%d", ev.Attempt, ev.MaxAttempts), Err: ev.Err})
		case provider.EventRetryExhausted:
			metrics.Attempts = ev.Attempt
			metrics.Successful = false
			if ev.Err != nil {
				metrics.LastError = ev.Err.Error()
			}
			a.emit(Event{Type: EventRetryExhausted, TurnID: turnID, Message: fmt.Sprintf("exhausted after %d attempts", ev.Attempt), Err: ev.Err})
		}
	}

	a.emit(Event{Type: EventThinkingStart, TurnID: turnID})
	var resp provider.Response
	var err error
	if a.cfg.Provider.SupportsStreaming() {
		resp, err = a.cfg.Provider.CreateStreamingResponse(ctx, req, providerSink)
	} else {
		resp, err = a.cfg.Provider.CreateResponse(ctx, req, providerSink)
	}
	a.setState(StateThinking)
	a.emit(Event{Type: EventThinkingComplete, TurnID: turnID})

	if metrics.Attempts == 0 {
		metrics.Attempts = 1
	}
	metrics.Successful = err == nil
	if err != nil && metrics.LastError == "" {
		metrics.LastError = err.Error()
	}
	return resp, metrics, err
}

func (a *Agent) runToolCalls(ctx context.Context, turnID string, calls []provider.ToolCall) error {
	a.setState(StateToolExecution)
	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return &CancelledError{Cause: err}
		}
		a.emit(Event{Type: EventToolCallStart, TurnID: turnID, ToolCallID: tc.ID, ToolName: tc.Name})
		result := a.cfg.Executor.ExecuteCall(ctx, tool.Call{ID: tc.ID, Name: tc.Name, Arguments: json.RawMessage(tc.Input)}, tool.Context{
			ThreadID:   string(a.cfg.ThreadID),
			WorkingDir: a.cfg.WorkingDir,
		})
		a.emit(Event{Type: EventToolCallComplete, TurnID: turnID, ToolCallID: tc.ID, ToolName: tc.Name, Result: &result})

		data := models.ToolResultData{ID: tc.ID, IsError: result.IsError, Metadata: result.Metadata}
		for _, c := range result.Content {
			data.Content = append(data.Content, models.ToolResultContent{Type: c.Type, Text: c.Text})
		}
		if _, err := a.append(ctx, models.EventToolResult, data); err != nil {
			return err
		}
	}
	a.setState(StateThinking)
	return nil
}

func (a *Agent) append(ctx context.Context, typ models.EventType, data any) (models.ThreadEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.ThreadEvent{}, fmt.Errorf("agent: marshal %s payload: %w", typ, err)
	}
	event := models.ThreadEvent{
		ThreadID:  a.cfg.ThreadID,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Data:      raw,
	}
	stored, err := a.cfg.Store.Append(ctx, event)
	if err != nil {
		return models.ThreadEvent{}, &StorageError{Op: "append", Cause: &thread.StorageError{Op: "append", ThreadID: a.cfg.ThreadID, Err: err}}
	}
	return stored, nil
}

func (a *Agent) drainQueue(ctx context.Context) {
	if a.cfg.Queue == nil {
		return
	}
	for {
		drained := false
		err := a.cfg.Queue.DrainOnIdle(func(m models.QueuedMessage) error {
			drained = true
			a.mu.Lock()
			idle := a.state == StateIdle
			a.mu.Unlock()
			if !idle {
				return nil
			}
			return a.runTurn(ctx, m.Content)
		})
		if err != nil || !drained || a.cfg.Queue.Len() == 0 {
			return
		}
	}
}

// classifyProviderError wraps a provider call failure as transient or
// fatal per provider.FailoverReason, so callers can tell a retried-in-vain
// failure from one that needs a different provider, model, or credential.
func classifyProviderError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	reason := provider.ClassifyError(err)
	if pe, ok := err.(*provider.Error); ok {
		reason = pe.Reason
	}
	if reason.IsRetryable() {
		return &ProviderTransientError{Provider: providerName, Cause: err}
	}
	return &ProviderFatalError{Provider: providerName, Cause: err}
}

func (a *Agent) fail(turnID string, started time.Time, err error) error {
	a.setState(StateIdle)
	a.emit(Event{Type: EventError, TurnID: turnID, Err: err, Message: err.Error()})
	a.drainQueue(context.Background())
	return err
}

func (a *Agent) aborted(turnID string, started time.Time, metrics *models.TurnMetrics) error {
	metrics.ElapsedMs = time.Since(started).Milliseconds()
	a.setState(StateIdle)
	a.emit(Event{Type: EventTurnAborted, TurnID: turnID, Metrics: metrics})
	a.drainQueue(context.Background())
	return nil
}
