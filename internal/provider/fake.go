package provider

import (
	"context"
	"sync"
	"time"

	"github.com/lacehq/lace/internal/backoff"
)

// Fake is a scriptable Provider used by tests of packages that depend on
// Provider (the agent engine, delegation) without exercising a real
// backend. Script a sequence of Steps; each attempt within a single
// CreateResponse/CreateStreamingResponse call consumes the next one, so a
// retryable Err followed by a successful step simulates a transient
// failure recovering on retry, exactly as a real adapter's RetryPolicy
// would against its SDK.
type Fake struct {
	mu    sync.Mutex
	Steps []FakeStep
	calls int

	FakeName      string
	FakeModel     string
	FakeStreaming bool

	// Retry overrides the retry policy used between scripted steps within
	// one call. Defaults to zero-delay backoff so scripted retries don't
	// slow down tests.
	Retry RetryPolicy
}

// FakeStep describes one scripted call's behavior.
type FakeStep struct {
	Response Response
	Err      error
	// Tokens, if set, are delivered one-by-one via EventToken before the
	// call returns (only exercised by CreateStreamingResponse).
	Tokens []string
	// Delay, if set, is waited out (interruptibly, via ctx) before the step
	// resolves, simulating a slow backend for cancellation tests.
	Delay time.Duration
}

// waitOrCancel blocks for d or until ctx is cancelled, whichever comes
// first, returning ctx.Err() in the latter case.
func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewFake(name string, steps ...FakeStep) *Fake {
	return &Fake{FakeName: name, FakeModel: "fake-model", Steps: steps}
}

func (f *Fake) Name() string             { return f.FakeName }
func (f *Fake) DefaultModel() string     { return f.FakeModel }
func (f *Fake) SupportsStreaming() bool  { return f.FakeStreaming }
func (f *Fake) CountTokens(req Request) int {
	n := len(req.SystemPrompt)
	for _, m := range req.Messages {
		n += len(m.Text)
	}
	return (n + 3) / 4
}

func (f *Fake) next() (FakeStep, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.Steps) {
		return FakeStep{}, false
	}
	step := f.Steps[f.calls]
	f.calls++
	return step, true
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) retryPolicy() RetryPolicy {
	if f.Retry.MaxAttempts == 0 && f.Retry.Backoff == (backoff.BackoffPolicy{}) {
		return RetryPolicy{Backoff: backoff.BackoffPolicy{}, MaxAttempts: MaxAttempts, ProviderName: f.FakeName}
	}
	return f.Retry
}

func (f *Fake) CreateResponse(ctx context.Context, req Request, sink Sink) (Response, error) {
	return f.retryPolicy().Do(ctx, sink, func(attempt int) (Response, bool, error) {
		step, ok := f.next()
		if !ok {
			return Response{}, false, NewError(f.FakeName, f.FakeModel, errScriptExhausted)
		}
		if err := waitOrCancel(ctx, step.Delay); err != nil {
			return Response{}, false, err
		}
		if step.Err != nil {
			return Response{}, false, step.Err
		}
		emit(sink, Event{Type: EventComplete, Response: &step.Response})
		return step.Response, false, nil
	})
}

func (f *Fake) CreateStreamingResponse(ctx context.Context, req Request, sink Sink) (Response, error) {
	return f.retryPolicy().Do(ctx, sink, func(attempt int) (Response, bool, error) {
		step, ok := f.next()
		if !ok {
			return Response{}, false, NewError(f.FakeName, f.FakeModel, errScriptExhausted)
		}
		if err := waitOrCancel(ctx, step.Delay); err != nil {
			return Response{}, false, err
		}
		streamedToken := false
		for _, tok := range step.Tokens {
			if err := ctx.Err(); err != nil {
				return Response{}, streamedToken, err
			}
			emit(sink, Event{Type: EventToken, Token: tok})
			streamedToken = true
		}
		if step.Err != nil {
			return Response{}, streamedToken, step.Err
		}
		emit(sink, Event{Type: EventComplete, Response: &step.Response})
		return step.Response, streamedToken, nil
	})
}

var errScriptExhausted = fakeErr("fake provider: no scripted steps remaining")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
