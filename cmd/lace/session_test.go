package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lacehq/lace/internal/thread"
	"github.com/lacehq/lace/pkg/models"
)

func TestResumeOrCreateThreadMintsFreshIDWhenEmpty(t *testing.T) {
	store := thread.NewMemoryStore()
	id, isResumed, err := resumeOrCreateThread(context.Background(), store, "")
	if err != nil {
		t.Fatalf("resumeOrCreateThread() err = %v", err)
	}
	if isResumed {
		t.Fatalf("isResumed = true, want false for a freshly minted thread")
	}
	if !id.Valid() || !id.IsRoot() {
		t.Fatalf("id = %q, want a valid root thread id", id)
	}
}

func TestResumeOrCreateThreadResumesExisting(t *testing.T) {
	store := thread.NewMemoryStore()
	id := models.NewThreadID(time.Unix(0, 0), "abcdef")
	data, _ := json.Marshal(models.MessageData{Text: "hi"})
	if _, err := store.Append(context.Background(), models.ThreadEvent{
		ThreadID: id, Timestamp: time.Now(), Type: models.EventUserMessage, Data: data,
	}); err != nil {
		t.Fatalf("Append() err = %v", err)
	}

	got, isResumed, err := resumeOrCreateThread(context.Background(), store, string(id))
	if err != nil {
		t.Fatalf("resumeOrCreateThread() err = %v", err)
	}
	if !isResumed {
		t.Fatalf("isResumed = false, want true for an existing thread")
	}
	if got != id {
		t.Fatalf("id = %q, want %q", got, id)
	}
}

func TestResumeOrCreateThreadRejectsMalformedID(t *testing.T) {
	store := thread.NewMemoryStore()
	if _, _, err := resumeOrCreateThread(context.Background(), store, "not-a-thread-id"); err == nil {
		t.Fatalf("resumeOrCreateThread() err = nil, want an error for a malformed id")
	}
}

func TestContinueThreadPicksMostRecentlyActiveRoot(t *testing.T) {
	store := thread.NewMemoryStore()
	older := models.NewThreadID(time.Unix(0, 0), "aaaaaa")
	newer := models.NewThreadID(time.Unix(0, 0), "bbbbbb")
	child := older.Child(1)

	appendAt := func(id models.ThreadID, at time.Time) {
		data, _ := json.Marshal(models.MessageData{Text: "x"})
		if _, err := store.Append(context.Background(), models.ThreadEvent{
			ThreadID: id, Timestamp: at, Type: models.EventUserMessage, Data: data,
		}); err != nil {
			t.Fatalf("Append() err = %v", err)
		}
	}
	appendAt(older, time.Unix(100, 0))
	appendAt(newer, time.Unix(300, 0))
	appendAt(child, time.Unix(500, 0)) // a child thread is newer still, but not a root

	got, err := continueThread(context.Background(), store)
	if err != nil {
		t.Fatalf("continueThread() err = %v", err)
	}
	if got != newer {
		t.Fatalf("continueThread() = %q, want %q (the newest root thread, ignoring the child)", got, newer)
	}
}

func TestContinueThreadErrorsWhenStoreEmpty(t *testing.T) {
	store := thread.NewMemoryStore()
	if _, err := continueThread(context.Background(), store); !errors.Is(err, thread.ErrThreadNotFound) {
		t.Fatalf("continueThread() err = %v, want ErrThreadNotFound", err)
	}
}
