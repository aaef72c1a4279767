package thread

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lacehq/lace/pkg/models"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store against PostgreSQL (or CockroachDB, which
// speaks the same wire protocol) for multi-process, durable deployments.
type PostgresStore struct {
	db *sql.DB

	stmtNextSeq  *sql.Stmt
	stmtAppend   *sql.Stmt
	stmtEvents   *sql.Stmt
	stmtSeqForID *sql.Stmt
	stmtThreads  *sql.Stmt
}

// PostgresConfig holds connection parameters for PostgresStore.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible local-development defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "lace",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection using config and ensures the schema
// exists.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newPostgresStoreWithDSN(dsn, config)
}

// NewPostgresStoreFromDSN opens a connection using a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("thread: dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresStoreWithDSN(dsn, config)
}

func newPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("thread: open postgres: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("thread: ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS thread_events (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			data JSONB NOT NULL,
			UNIQUE (thread_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("thread: create schema: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_thread_events_thread_seq ON thread_events(thread_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("thread: create index: %w", err)
	}
	return nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtNextSeq, err = s.db.Prepare(`SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_events WHERE thread_id = $1`)
	if err != nil {
		return fmt.Errorf("thread: prepare next seq: %w", err)
	}
	s.stmtAppend, err = s.db.Prepare(`
		INSERT INTO thread_events (id, thread_id, seq, timestamp, type, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("thread: prepare append: %w", err)
	}
	s.stmtEvents, err = s.db.Prepare(`
		SELECT id, thread_id, timestamp, type, data FROM thread_events
		WHERE thread_id = $1 AND seq > $2 ORDER BY seq ASC
	`)
	if err != nil {
		return fmt.Errorf("thread: prepare events: %w", err)
	}
	s.stmtSeqForID, err = s.db.Prepare(`SELECT seq FROM thread_events WHERE thread_id = $1 AND id = $2`)
	if err != nil {
		return fmt.Errorf("thread: prepare seq for id: %w", err)
	}
	s.stmtThreads, err = s.db.Prepare(`SELECT DISTINCT thread_id FROM thread_events`)
	if err != nil {
		return fmt.Errorf("thread: prepare threads: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, event models.ThreadEvent) (models.ThreadEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var nextSeq int
	if err := s.stmtNextSeq.QueryRowContext(ctx, event.ThreadID).Scan(&nextSeq); err != nil {
		return models.ThreadEvent{}, &StorageError{Op: "append", ThreadID: event.ThreadID, Err: err}
	}

	_, err := s.stmtAppend.ExecContext(ctx,
		event.ID, event.ThreadID, nextSeq, event.Timestamp, string(event.Type), []byte(event.Data))
	if err != nil {
		return models.ThreadEvent{}, &StorageError{Op: "append", ThreadID: event.ThreadID, Err: err}
	}
	return event, nil
}

// Events implements Store.
func (s *PostgresStore) Events(ctx context.Context, threadID models.ThreadID) ([]models.ThreadEvent, error) {
	return s.eventsAfterSeq(ctx, threadID, -1)
}

// EventsSince implements Store.
func (s *PostgresStore) EventsSince(ctx context.Context, threadID models.ThreadID, afterEventID string) ([]models.ThreadEvent, error) {
	if afterEventID == "" {
		return s.Events(ctx, threadID)
	}

	var afterSeq int
	err := s.stmtSeqForID.QueryRowContext(ctx, threadID, afterEventID).Scan(&afterSeq)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "events_since", ThreadID: threadID, Err: err}
	}
	return s.eventsAfterSeq(ctx, threadID, afterSeq)
}

func (s *PostgresStore) eventsAfterSeq(ctx context.Context, threadID models.ThreadID, afterSeq int) ([]models.ThreadEvent, error) {
	rows, err := s.stmtEvents.QueryContext(ctx, threadID, afterSeq)
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
func (s *PostgresStore) Threads(ctx context.Context) ([]models.ThreadID, error) {
	rows, err := s.stmtThreads.QueryContext(ctx)
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
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtNextSeq, s.stmtAppend, s.stmtEvents, s.stmtSeqForID, s.stmtThreads} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
