package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Heartbeat is one supervision cycle.
type Heartbeat struct {
	ID                  string    `json:"id"`
	Account             string    `json:"account"`
	Timestamp           time.Time `json:"timestamp"`
	State               string    `json:"state"`
	ErrorCount          int       `json:"error_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	WorkerAlive         bool      `json:"worker_alive"`
	CPUPercent          float64   `json:"cpu_percent"`
	MemoryMB            float64   `json:"memory_mb"`
	Goroutines          int       `json:"goroutines"`
	Error               string    `json:"error,omitempty"`
}

// Event kinds written by the monitor.
const (
	EventStarted   = "started"
	EventNewPost   = "new_post"
	EventTransient = "transient"
	EventFatal     = "fatal"
	EventStopped   = "stopped"
	EventNotify    = "notify_failed"
)

// Event is one monitor lifecycle or detection event.
type Event struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	PostID    string    `json:"post_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is one emergency notification attempt.
type Alert struct {
	ID            string    `json:"id"`
	Account       string    `json:"account"`
	Message       string    `json:"message"`
	ErrorCount    int       `json:"error_count"`
	MaxErrors     int       `json:"max_errors"`
	Status        string    `json:"status"`
	Delivered     bool      `json:"delivered"`
	DeliveryError string    `json:"delivery_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordHeartbeat writes a heartbeat row. Errors are logged, not returned.
func (j *Journal) RecordHeartbeat(ctx context.Context, hb Heartbeat) {
	if hb.ID == "" {
		hb.ID = j.newID()
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = j.now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO supervisor_heartbeats (
			heartbeat_id, account, timestamp, state, error_count,
			consecutive_failures, worker_alive, cpu_percent, memory_mb,
			goroutines, error
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		hb.ID, hb.Account, hb.Timestamp.Unix(), hb.State, hb.ErrorCount,
		hb.ConsecutiveFailures, hb.WorkerAlive, hb.CPUPercent, hb.MemoryMB,
		hb.Goroutines, hb.Error)
	if err != nil {
		j.log.Error("observability: heartbeat write failed", "error", err, "account", hb.Account)
	}
}

// LogEvent writes a monitor event. Errors are logged, not returned.
func (j *Journal) LogEvent(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = j.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO monitor_events (
			event_id, account, kind, post_id, text, url, detail, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Account, ev.Kind, ev.PostID, ev.Text, ev.URL, ev.Detail, ev.CreatedAt.Unix())
	if err != nil {
		j.log.Error("observability: event write failed", "error", err, "kind", ev.Kind)
	}
}

// RecordAlert writes an emergency alert attempt. Errors are logged, not returned.
func (j *Journal) RecordAlert(ctx context.Context, a Alert) {
	if a.ID == "" {
		a.ID = j.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO emergency_alerts (
			alert_id, account, message, error_count, max_errors, status,
			delivered, delivery_error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Account, a.Message, a.ErrorCount, a.MaxErrors, a.Status,
		a.Delivered, a.DeliveryError, a.CreatedAt.Unix())
	if err != nil {
		j.log.Error("observability: alert write failed", "error", err, "account", a.Account)
	}
}

// LatestHeartbeat returns the newest heartbeat for account, or nil, nil if
// none has been recorded.
func (j *Journal) LatestHeartbeat(ctx context.Context, account string) (*Heartbeat, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT heartbeat_id, account, timestamp, state, error_count,
		       consecutive_failures, worker_alive, COALESCE(cpu_percent, 0),
		       COALESCE(memory_mb, 0), COALESCE(goroutines, 0), COALESCE(error, '')
		FROM supervisor_heartbeats
		WHERE account = ?
		ORDER BY timestamp DESC, heartbeat_id DESC LIMIT 1`, account)

	var hb Heartbeat
	var ts int64
	err := row.Scan(&hb.ID, &hb.Account, &ts, &hb.State, &hb.ErrorCount,
		&hb.ConsecutiveFailures, &hb.WorkerAlive, &hb.CPUPercent,
		&hb.MemoryMB, &hb.Goroutines, &hb.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	hb.Timestamp = time.Unix(ts, 0)
	return &hb, nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (j *Journal) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT alert_id, account, message, error_count, max_errors, status,
		       delivered, COALESCE(delivery_error, ''), created_at
		FROM emergency_alerts
		ORDER BY created_at DESC, alert_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var ts int64
		if err := rows.Scan(&a.ID, &a.Account, &a.Message, &a.ErrorCount, &a.MaxErrors,
			&a.Status, &a.Delivered, &a.DeliveryError, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan alert: %w", err)
		}
		a.CreatedAt = time.Unix(ts, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentEvents returns up to limit events, newest first. An empty kind
// matches every kind.
func (j *Journal) RecentEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, account, kind, COALESCE(post_id, ''), COALESCE(text, ''),
		       COALESCE(url, ''), COALESCE(detail, ''), created_at
		FROM monitor_events
		WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, event_id DESC LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.Account, &ev.Kind, &ev.PostID, &ev.Text,
			&ev.URL, &ev.Detail, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.CreatedAt = time.Unix(ts, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes rows older than retentionDays from every journal table and
// returns the number of rows removed. retentionDays <= 0 keeps everything.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays).Unix()

	targets := []struct{ table, column string }{
		{"supervisor_heartbeats", "timestamp"},
		{"monitor_events", "created_at"},
		{"emergency_alerts", "created_at"},
	}
	var total int64
	for _, t := range targets {
		res, err := j.db.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE "+t.column+" < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
