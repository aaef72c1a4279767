// Package queue implements MessageQueue: a bounded, per-agent queue of
// inbound messages that arrive while the agent is busy, drained only on
// the agent's transition into idle.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/lacehq/lace/pkg/models"
)

// ErrFull is returned by Enqueue once the queue holds Capacity entries.
var ErrFull = errors.New("queue: full")

// Stats summarizes the current queue state.
type Stats struct {
	QueueLength       int
	HighPriorityCount int
	OldestAgeMs       *int64
}

// DrainFunc processes one dequeued message. A non-nil error stops the
// drain, leaving any remaining entries queued for the next idle transition.
type DrainFunc func(models.QueuedMessage) error

// Queue is a bounded per-agent MessageQueue. All methods are safe for
// concurrent use; Now is injectable so tests can control OldestAgeMs.
type Queue struct {
	mu       sync.Mutex
	capacity int
	high     []models.QueuedMessage
	normal   []models.QueuedMessage
	draining bool
	now      func() time.Time
}

// New returns an empty Queue bounded at capacity entries. capacity <= 0
// means unbounded.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity, now: time.Now}
}

// Enqueue adds entry to the queue, returning ErrFull once Capacity entries
// are already queued. Entries enqueued while a drain is in progress are
// not picked up by that drain; they wait for the next idle transition.
func (q *Queue) Enqueue(entry models.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.high)+len(q.normal) >= q.capacity {
		return ErrFull
	}
	if entry.Priority == models.PriorityHigh {
		q.high = append(q.high, entry)
	} else {
		q.normal = append(q.normal, entry)
	}
	return nil
}

// Stats reports the current queue depth and the age of its oldest entry.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		QueueLength:       len(q.high) + len(q.normal),
		HighPriorityCount: len(q.high),
	}
	oldest := q.oldestLocked()
	if oldest != nil {
		ms := q.now().Sub(*oldest).Milliseconds()
		stats.OldestAgeMs = &ms
	}
	return stats
}

func (q *Queue) oldestLocked() *time.Time {
	var oldest *time.Time
	consider := func(t time.Time) {
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
	}
	if len(q.high) > 0 {
		consider(q.high[0].EnqueuedAt)
	}
	if len(q.normal) > 0 {
		consider(q.normal[0].EnqueuedAt)
	}
	return oldest
}

// DrainOnIdle dequeues every pending entry in priority order (all high
// entries before any normal entry, FIFO within a priority) and passes each
// to process. It must only be called on the agent's transition into idle;
// callers in any other state must not call it. DrainOnIdle is not
// reentrant: a call that arrives while a drain is already running is a
// no-op for draining purposes, though Enqueue during that window still
// accepts new work for the next drain.
func (q *Queue) DrainOnIdle(process DrainFunc) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	pendingHigh, pendingNormal := len(q.high), len(q.normal)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for pendingHigh+pendingNormal > 0 {
		q.mu.Lock()
		lane := &q.normal
		if pendingHigh > 0 {
			lane, pendingHigh = &q.high, pendingHigh-1
		} else {
			pendingNormal--
		}
		entry := (*lane)[0]
		*lane = (*lane)[1:]
		q.mu.Unlock()
		if err := process(entry); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) dequeue() (models.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.high) > 0 {
		entry := q.high[0]
		q.high = q.high[1:]
		return entry, true
	}
	if len(q.normal) > 0 {
		entry := q.normal[0]
		q.normal = q.normal[1:]
		return entry, true
	}
	return models.QueuedMessage{}, false
}

// Len returns the total number of queued entries, high and normal.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high) + len(q.normal)
}
