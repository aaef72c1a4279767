package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/pkg/models"
)

// resumeOrCreateThread resolves the thread a session should attach to. An
// empty requested id mints a fresh root thread id; a non-empty one is
// resumed if it already has events, or adopted as a new thread's id
// otherwise (its first appended event creates it). isResumed reports
// which happened.
func resumeOrCreateThread(ctx context.Context, store thread.Store, requested string) (models.ThreadID, bool, error) {
	if requested == "" {
		id := models.NewThreadID(time.Now(), uuid.NewString()[:6])
		return id, false, nil
	}

	id := models.ThreadID(requested)
	if !id.Valid() {
		return "", false, fmt.Errorf("%q is not a valid thread id", requested)
	}

	_, err := store.Events(ctx, id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, thread.ErrThreadNotFound):
		return id, false, nil
	default:
		return "", false, fmt.Errorf("resuming thread %s: %w", id, err)
	}
}

// continueThread resumes the most recently active root thread: the one
// whose last event has the latest timestamp. It returns thread.ErrThreadNotFound
// if the store has no root threads yet.
func continueThread(ctx context.Context, store thread.Store) (models.ThreadID, error) {
	ids, err := store.Threads(ctx)
	if err != nil {
		return "", fmt.Errorf("listing threads: %w", err)
	}

	var newest models.ThreadID
	var newestAt time.Time
	for _, id := range ids {
		if !id.IsRoot() {
			continue
		}
		events, err := store.Events(ctx, id)
		if err != nil || len(events) == 0 {
			continue
		}
		last := events[len(events)-1].Timestamp
		if newest == "" || last.After(newestAt) {
			newest, newestAt = id, last
		}
	}
	if newest == "" {
		return "", thread.ErrThreadNotFound
	}
	return newest, nil
}
