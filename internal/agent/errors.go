package agent

import "fmt"

// ValidationError reports malformed input to an agent operation: an empty
// message, a request that fails Config validation, or similar caller
// mistakes a retry cannot fix.
type ValidationError struct {
	// Field names the invalid input, when known.
	Field string
	// Cause is the underlying error, if any.
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("validation: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ApprovalDeniedError reports that a tool call was denied by the approval
// chain rather than failing on its own terms.
type ApprovalDeniedError struct {
	ToolName string
}

func (e *ApprovalDeniedError) Error() string {
	return fmt.Sprintf("approval denied: %s", e.ToolName)
}

func (e *ApprovalDeniedError) Is(target error) bool {
	_, ok := target.(*ApprovalDeniedError)
	return ok
}

// ToolExecutionError reports that a tool ran but failed, distinct from a
// denied call or an unknown tool name.
type ToolExecutionError struct {
	ToolName   string
	ToolCallID string
	Cause      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

func (e *ToolExecutionError) Is(target error) bool {
	_, ok := target.(*ToolExecutionError)
	return ok
}

// ProviderTransientError reports a provider failure retrying the same
// request might still resolve (rate limit, timeout, server error) — see
// provider.FailoverReason.IsRetryable.
type ProviderTransientError struct {
	Provider string
	Cause    error
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("provider %s: transient: %v", e.Provider, e.Cause)
}

func (e *ProviderTransientError) Unwrap() error { return e.Cause }

func (e *ProviderTransientError) Is(target error) bool {
	_, ok := target.(*ProviderTransientError)
	return ok
}

// ProviderFatalError reports a provider failure retrying will not resolve
// (auth, billing, invalid request, content filter).
type ProviderFatalError struct {
	Provider string
	Cause    error
}

func (e *ProviderFatalError) Error() string {
	return fmt.Sprintf("provider %s: fatal: %v", e.Provider, e.Cause)
}

func (e *ProviderFatalError) Unwrap() error { return e.Cause }

func (e *ProviderFatalError) Is(target error) bool {
	_, ok := target.(*ProviderFatalError)
	return ok
}

// CancelledError reports a turn that ended because its context was
// cancelled (Abort, Stop, or an upstream cancellation) rather than an
// internal failure. The agent surfaces this as EventTurnAborted, never as
// EventError, so it does not read to a user as a crash.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string { return fmt.Sprintf("cancelled: %v", e.Cause) }

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// StorageError reports a thread.Store failure surfaced through the agent,
// wrapping the store's own thread.StorageError rather than duplicating
// its fields.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string { return fmt.Sprintf("agent: %s: %v", e.Op, e.Cause) }

func (e *StorageError) Unwrap() error { return e.Cause }

func (e *StorageError) Is(target error) bool {
	_, ok := target.(*StorageError)
	return ok
}

// BudgetExceededError reports that a turn could not proceed within its
// token budget even after compaction: the request still would not fit
// under the effective limit, so the turn ends rather than calling the
// provider over budget. RecommendCompact is true whenever a Compactor was
// configured, the message the user-facing renderer turns into a
// "try /compact" hint.
type BudgetExceededError struct {
	Estimated        int
	Limit            int
	RecommendCompact bool
}

func (e *BudgetExceededError) Error() string {
	if e.RecommendCompact {
		return fmt.Sprintf("token budget exceeded: estimated %d tokens over the %d token limit even after compaction; try /compact", e.Estimated, e.Limit)
	}
	return fmt.Sprintf("token budget exceeded: estimated %d tokens over the %d token limit", e.Estimated, e.Limit)
}

func (e *BudgetExceededError) Is(target error) bool {
	_, ok := target.(*BudgetExceededError)
	return ok
}
