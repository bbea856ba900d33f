// Package observability is the feedwatch journal: supervision heartbeats,
// monitor events and emergency alerts in a small SQLite database.
//
// Writes never fail the caller. A journal that cannot write logs the error
// through slog and the monitor keeps running.
//
//	j, err := observability.Open("feedwatch.db")
//	defer j.Close()
//	j.LogEvent(ctx, observability.Event{Kind: observability.EventNewPost, ...})
package observability

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Journal writes and reads the observability tables.
type Journal struct {
	db    *sql.DB
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger used for swallowed write errors.
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.log = l } }

// WithClock overrides time.Now for row timestamps and retention cutoffs.
func WithClock(now func() time.Time) Option { return func(j *Journal) { j.now = now } }

// WithIDGenerator overrides the UUIDv7 row id generator.
func WithIDGenerator(gen func() string) Option { return func(j *Journal) { j.newID = gen } }

// Open opens (creating if needed) the journal database at path, applies the
// production pragmas and the schema. ":memory:" gives a private in-memory
// journal pinned to a single connection.
func Open(path string, opts ...Option) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("observability: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("observability: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("observability: %s: %w", p, err)
		}
	}

	if err := Init(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("observability: ping: %w", err)
	}

	return New(db, opts...), nil
}

// New wraps an already-initialised database.
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:    db,
		log:   slog.Default(),
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// DB exposes the underlying handle.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }
