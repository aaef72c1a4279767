// Package thread implements the ThreadStore: the append-only event log that
// is the single source of truth for a conversation's history. Every other
// component (Agent, Compactor, DelegationManager) reconstructs its working
// state by replaying a thread's events rather than holding its own copy.
package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/lacehq/lace/pkg/models"
)

// ErrThreadNotFound is returned when an operation addresses a thread id
// with no events ever appended to it.
var ErrThreadNotFound = errors.New("thread: not found")

// ErrEventNotFound is returned when EventsSince's afterEventID names no
// event of the thread.
var ErrEventNotFound = errors.New("thread: event not found")

// StorageError wraps a backend-specific failure (SQL driver error, I/O
// error) with the operation and thread id that triggered it, so callers can
// log and retry without parsing driver-specific error strings.
type StorageError struct {
	Op       string
	ThreadID models.ThreadID
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("thread store: %s %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the append-only persistence contract for thread events. A Store
// implementation never mutates or removes an event once Append has
// returned successfully; COMPACTION events are themselves appended, not
// applied as edits to existing rows.
type Store interface {
	// Append adds event to the end of its thread's log and assigns it an
	// id if event.ID is empty. Events within a thread are strictly ordered
	// by append order, which callers rely on to reconstruct state.
	Append(ctx context.Context, event models.ThreadEvent) (models.ThreadEvent, error)

	// Events returns every event appended to threadID, oldest first. It
	// returns ErrThreadNotFound if no event has ever been appended to
	// threadID.
	Events(ctx context.Context, threadID models.ThreadID) ([]models.ThreadEvent, error)

	// EventsSince returns the events appended to threadID strictly after
	// afterEventID, oldest first. An empty afterEventID returns the same
	// result as Events.
	EventsSince(ctx context.Context, threadID models.ThreadID, afterEventID string) ([]models.ThreadEvent, error)

	// Threads lists every thread id that has at least one event, including
	// child threads. Callers filter by Parent/Root themselves.
	Threads(ctx context.Context) ([]models.ThreadID, error)

	// Close releases any resources (DB connections, file handles) held by
	// the store.
	Close() error
}
