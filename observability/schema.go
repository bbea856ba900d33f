package observability

import (
	"database/sql"
	"fmt"
)

// Schema is the journal DDL. Timestamps are unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS supervisor_heartbeats (
    heartbeat_id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    state TEXT NOT NULL,
    error_count INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    worker_alive INTEGER NOT NULL DEFAULT 0,
    cpu_percent REAL,
    memory_mb REAL,
    goroutines INTEGER,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_account_time
    ON supervisor_heartbeats(account, timestamp DESC);

CREATE TABLE IF NOT EXISTS monitor_events (
    event_id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    kind TEXT NOT NULL,
    post_id TEXT,
    text TEXT,
    url TEXT,
    detail TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_time ON monitor_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_kind ON monitor_events(kind, created_at DESC);

CREATE TABLE IF NOT EXISTS emergency_alerts (
    alert_id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    message TEXT NOT NULL,
    error_count INTEGER NOT NULL,
    max_errors INTEGER NOT NULL,
    status TEXT NOT NULL,
    delivered INTEGER NOT NULL DEFAULT 0,
    delivery_error TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_time ON emergency_alerts(created_at DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}
