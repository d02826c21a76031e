// Package store provides the sqlite-backed event, session and RSVP
// persistence behind the engine's read path. Recurrence expansion happens at
// read time, so only base events are ever written; occurrences are never
// materialized as rows.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tribecal/internal/feed"
)

var (
	// ErrInvalidSpan rejects events whose end precedes their start. Caught
	// at write time so it can never reach expansion.
	ErrInvalidSpan = errors.New("event end precedes start")

	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps store-level failures. A range read failing with
	// it must fail the whole query; a partial base-event list could under-
	// or over-represent visibility.
	ErrUnavailable = errors.New("store unavailable")
)

// Notifier receives change notices for rows written through the store.
type Notifier interface {
	Publish(feed.Notice)
}

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (and if needed creates) the sqlite file at the given path.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL for concurrent reads, busy timeout so short write contention
	// waits instead of erroring.
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	wrapped := &DB{DB: db, path: path}
	if err := wrapped.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Transaction executes fn within a transaction, rolling back on error.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (db *DB) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		owner_id      TEXT NOT NULL,
		visibility    TEXT NOT NULL,
		community_id  TEXT NOT NULL DEFAULT '',
		recurrence    TEXT NOT NULL DEFAULT '',
		start_at      TIMESTAMP NOT NULL,
		end_at        TIMESTAMP NOT NULL,
		all_day       INTEGER NOT NULL DEFAULT 0,
		lat           REAL,
		lng           REAL,
		kind          TEXT NOT NULL DEFAULT '',
		cancelled     INTEGER NOT NULL DEFAULT 0,
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
	CREATE INDEX IF NOT EXISTS idx_events_owner ON events(owner_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at   TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(ended_at) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);

	CREATE TABLE IF NOT EXISTS rsvps (
		event_id     TEXT NOT NULL,
		instance_key TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		status       TEXT NOT NULL,
		pinned       INTEGER NOT NULL DEFAULT 0,
		shareable    INTEGER NOT NULL DEFAULT 0,
		updated_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (event_id, instance_key, user_id)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Store is the data-access layer over one DB. The optional notifier receives
// a change notice for every write so cached expansions can be invalidated.
type Store struct {
	db       *DB
	notifier Notifier
	now      func() time.Time
}

// New creates a Store. notifier may be nil.
func New(db *DB, notifier Notifier) *Store {
	return &Store{
		db:       db,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *Store) notify(kind feed.Kind, id string) {
	if s.notifier != nil {
		s.notifier.Publish(feed.Notice{Kind: kind, ID: id})
	}
}

// utc normalizes timestamps before they hit sqlite so that stored text
// values compare correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}
