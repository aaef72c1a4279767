package thread

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lacehq/lace/pkg/models"
	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

// SQLiteStore implements Store on top of modernc.org/sqlite. It is the
// default durable backend for a single-node Lace install; Path may be a
// file path or ":memory:" for tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("thread: open sqlite store: %w", err)
	}
	// The pure-Go sqlite driver serializes writes internally; a single
	// connection avoids SQLITE_BUSY from concurrent writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS thread_events (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			type TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("thread: create schema: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_thread_events_thread_seq
		ON thread_events(thread_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("thread: create index: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, event models.ThreadEvent) (models.ThreadEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var nextSeq int
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_events WHERE thread_id = ?`, event.ThreadID)
	if err := row.Scan(&nextSeq); err != nil {
		return models.ThreadEvent{}, &StorageError{Op: "append", ThreadID: event.ThreadID, Err: err}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_events (id, thread_id, seq, timestamp, type, data) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.ThreadID, nextSeq, event.Timestamp, string(event.Type), []byte(event.Data),
	)
	if err != nil {
		return models.ThreadEvent{}, &StorageError{Op: "append", ThreadID: event.ThreadID, Err: err}
	}
	return event, nil
}

// Events implements Store.
func (s *SQLiteStore) Events(ctx context.Context, threadID models.ThreadID) ([]models.ThreadEvent, error) {
	return s.eventsAfterSeq(ctx, threadID, -1)
}

// EventsSince implements Store.
func (s *SQLiteStore) EventsSince(ctx context.Context, threadID models.ThreadID, afterEventID string) ([]models.ThreadEvent, error) {
	if afterEventID == "" {
		return s.Events(ctx, threadID)
	}

	var afterSeq int
	row := s.db.QueryRowContext(ctx,
		`SELECT seq FROM thread_events WHERE thread_id = ? AND id = ?`, threadID, afterEventID)
	if err := row.Scan(&afterSeq); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, &StorageError{Op: "events_since", ThreadID: threadID, Err: err}
	}
	return s.eventsAfterSeq(ctx, threadID, afterSeq)
}

func (s *SQLiteStore) eventsAfterSeq(ctx context.Context, threadID models.ThreadID, afterSeq int) ([]models.ThreadEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, timestamp, type, data FROM thread_events
		 WHERE thread_id = ? AND seq > ? ORDER BY seq ASC`, threadID, afterSeq)
	if err != nil {
		return nil, &StorageError{Op: "events", ThreadID: threadID, Err: err}
	}
	defer rows.Close()

	var events []models.ThreadEvent
	for rows.Next() {
		var e models.ThreadEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.Timestamp, &eventType, &e.Data); err != nil {
			return nil, &StorageError{Op: "events", ThreadID: threadID, Err: err}
		}
		e.Type = models.EventType(eventType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "events", ThreadID: threadID, Err: err}
	}
	if afterSeq < 0 && len(events) == 0 {
		return nil, ErrThreadNotFound
	}
	return events, nil
}

// Threads implements Store.
func (s *SQLiteStore) Threads(ctx context.Context) ([]models.ThreadID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT thread_id FROM thread_events`)
	if err != nil {
		return nil, fmt.Errorf("thread: list threads: %w", err)
	}
	defer rows.Close()

	var ids []models.ThreadID
	for rows.Next() {
		var id models.ThreadID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("thread: scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
