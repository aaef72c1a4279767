package provider

import (
	"context"
	"errors"

	"github.com/lacehq/lace/internal/backoff"
)

// MaxAttempts is the hard ceiling on attempts for a single provider call,
// regardless of the backoff policy's own limits.
const MaxAttempts = 10

// RetryPolicy wraps a provider call with exponential backoff, stopping
// once the error is classified as non-retryable, the context is
// cancelled, MaxAttempts is reached, or (for streaming calls) a token has
// already been delivered on the current attempt.
type RetryPolicy struct {
	Backoff      backoff.BackoffPolicy
	MaxAttempts  int
	ProviderName string
}

// NewRetryPolicy returns a RetryPolicy using backoff.DefaultPolicy(),
// capped at MaxAttempts.
func NewRetryPolicy(providerName string) RetryPolicy {
	return RetryPolicy{
		Backoff:      backoff.DefaultPolicy(),
		MaxAttempts:  MaxAttempts,
		ProviderName: providerName,
	}
}

// Do runs call, retrying per policy. call receives the attempt number
// (starting at 1) and must report, via streamedToken, whether any token
// has been delivered to the caller's sink on this attempt — once true,
// Do treats the attempt as committed and will not retry even if call then
// fails, since a partial response has already reached the caller.
func (p RetryPolicy) Do(ctx context.Context, sink Sink, call func(attempt int) (Response, bool, error)) (Response, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > MaxAttempts {
		maxAttempts = MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}

		resp, streamedToken, err := call(attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if streamedToken {
			return Response{}, err
		}

		reason := reasonOf(err)
		if reason == FailoverCancelled {
			return Response{}, err
		}
		if !reason.IsRetryable() {
			return Response{}, err
		}
		if attempt >= maxAttempts {
			emit(sink, Event{Type: EventRetryExhausted, Attempt: attempt, MaxAttempts: maxAttempts, Err: err})
			return Response{}, err
		}

		emit(sink, Event{Type: EventRetryAttempt, Attempt: attempt, MaxAttempts: maxAttempts, Err: err})
		if sleepErr := backoff.SleepWithBackoff(ctx, p.Backoff, attempt); sleepErr != nil {
			return Response{}, sleepErr
		}
	}
	return Response{}, lastErr
}

func reasonOf(err error) FailoverReason {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason
	}
	return ClassifyError(err)
}

func emit(sink Sink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
