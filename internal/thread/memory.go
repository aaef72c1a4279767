package thread

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lacehq/lace/pkg/models"
)

// MemoryStore keeps thread events in memory, cloned on every read and
// write so callers can never mutate state behind the store's back. It is
// the default store for tests and for single-process, non-durable runs.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[models.ThreadID][]models.ThreadEvent
}

// NewMemoryStore returns an empty in-memory thread store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[models.ThreadID][]models.ThreadEvent)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, event models.ThreadEvent) (models.ThreadEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ThreadID] = append(s.events[event.ThreadID], cloneEvent(event))
	return event, nil
}

// Events implements Store.
func (s *MemoryStore) Events(ctx context.Context, threadID models.ThreadID) ([]models.ThreadEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.events[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cloneEvents(events), nil
}

// EventsSince implements Store.
func (s *MemoryStore) EventsSince(ctx context.Context, threadID models.ThreadID, afterEventID string) ([]models.ThreadEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.events[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	if afterEventID == "" {
		return cloneEvents(events), nil
	}

	for i, e := range events {
		if e.ID == afterEventID {
			return cloneEvents(events[i+1:]), nil
		}
	}
	return nil, ErrEventNotFound
}

// Threads implements Store.
func (s *MemoryStore) Threads(ctx context.Context) ([]models.ThreadID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]models.ThreadID, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close implements Store. MemoryStore holds no external resources.
func (s *MemoryStore) Close() error { return nil }

func cloneEvent(e models.ThreadEvent) models.ThreadEvent {
	clone := e
	if e.Data != nil {
		clone.Data = append([]byte(nil), e.Data...)
	}
	return clone
}

func cloneEvents(events []models.ThreadEvent) []models.ThreadEvent {
	out := make([]models.ThreadEvent, len(events))
	for i, e := range events {
		out[i] = cloneEvent(e)
	}
	return out
}
