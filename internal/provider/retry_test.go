package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/lacehq/lace/internal/backoff"
)

func fastPolicy(providerName string) RetryPolicy {
	return RetryPolicy{
		Backoff:      backoff.BackoffPolicy{InitialMs: 0, MaxMs: 0, Factor: 1, Jitter: 0},
		MaxAttempts:  MaxAttempts,
		ProviderName: providerName,
	}
}

func TestRetryPolicySucceedsAfterTransientErrors(t *testing.T) {
	p := fastPolicy("fake")
	attempts := 0
	resp, err := p.Do(context.Background(), nil, func(attempt int) (Response, bool, error) {
		attempts++
		if attempt < 3 {
			return Response{}, false, (&Error{Reason: FailoverRateLimit}).WithMessage("rate limited")
		}
		return Response{Content: "ok"}, false, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	p := fastPolicy("fake")
	attempts := 0
	_, err := p.Do(context.Background(), nil, func(attempt int) (Response, bool, error) {
		attempts++
		return Response{}, false, (&Error{Reason: FailoverAuth}).WithMessage("bad key")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (auth error must not retry)", attempts)
	}
}

func TestRetryPolicyStopsAfterStreamedToken(t *testing.T) {
	p := fastPolicy("fake")
	attempts := 0
	_, err := p.Do(context.Background(), nil, func(attempt int) (Response, bool, error) {
		attempts++
		return Response{}, true, (&Error{Reason: FailoverServerError}).WithMessage("boom mid-stream")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry once a token has streamed)", attempts)
	}
}

func TestRetryPolicyExhaustsAtMaxAttempts(t *testing.T) {
	p := fastPolicy("fake")
	attempts := 0
	_, err := p.Do(context.Background(), nil, func(attempt int) (Response, bool, error) {
		attempts++
		return Response{}, false, (&Error{Reason: FailoverTimeout}).WithMessage("slow")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != MaxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, MaxAttempts)
	}
}

func TestRetryPolicyEmitsRetryEvents(t *testing.T) {
	p := fastPolicy("fake")
	var events []Event
	sink := func(e Event) { events = append(events, e) }

	_, err := p.Do(context.Background(), sink, func(attempt int) (Response, bool, error) {
		if attempt < 2 {
			return Response{}, false, (&Error{Reason: FailoverRateLimit}).WithMessage("rl")
		}
		return Response{Content: "ok"}, false, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(events) != 1 || events[0].Type != EventRetryAttempt {
		t.Fatalf("events = %+v, want single retry_attempt", events)
	}
}

func TestRetryPolicyRespectsCancellation(t *testing.T) {
	p := fastPolicy("fake")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Do(ctx, nil, func(attempt int) (Response, bool, error) {
		t.Fatalf("call should not run on an already-cancelled context")
		return Response{}, false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
