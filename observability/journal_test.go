package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func setupJournal(t *testing.T, now time.Time) *Journal {
	t.Helper()
	seq := 0
	j, err := Open(":memory:",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_CreatesTables(t *testing.T) {
	j := setupJournal(t, time.Now())
	for _, table := range []string{"supervisor_heartbeats", "monitor_events", "emergency_alerts"} {
		var count int
		j.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestInit_Idempotent(t *testing.T) {
	j := setupJournal(t, time.Now())
	if err := Init(j.DB()); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

// --- Heartbeats ---

func TestLatestHeartbeat(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	j := setupJournal(t, now)
	ctx := context.Background()

	hb, err := j.LatestHeartbeat(ctx, "someone")
	if err != nil || hb != nil {
		t.Fatalf("empty journal: hb=%+v err=%v", hb, err)
	}

	j.RecordHeartbeat(ctx, Heartbeat{Account: "someone", Timestamp: now.Add(-time.Minute), State: "running"})
	j.RecordHeartbeat(ctx, Heartbeat{Account: "someone", State: "degraded", ErrorCount: 1, WorkerAlive: true, Error: "stale"})
	j.RecordHeartbeat(ctx, Heartbeat{Account: "other", State: "running"})

	hb, err = j.LatestHeartbeat(ctx, "someone")
	if err != nil {
		t.Fatal(err)
	}
	if hb == nil {
		t.Fatal("expected a heartbeat")
	}
	if hb.State != "degraded" || hb.ErrorCount != 1 || !hb.WorkerAlive || hb.Error != "stale" {
		t.Fatalf("latest: %+v", hb)
	}
	if !hb.Timestamp.Equal(now) {
		t.Fatalf("timestamp: got %v, want %v", hb.Timestamp, now)
	}
}

// --- Events ---

func TestRecentEvents_FilterByKind(t *testing.T) {
	j := setupJournal(t, time.Unix(1_800_000_000, 0))
	ctx := context.Background()

	j.LogEvent(ctx, Event{Account: "someone", Kind: EventStarted})
	j.LogEvent(ctx, Event{Account: "someone", Kind: EventNewPost, PostID: "42", Text: "hello", URL: "https://x.com/someone/status/42"})
	j.LogEvent(ctx, Event{Account: "someone", Kind: EventTransient, Detail: "timeout"})

	all, err := j.RecentEvents(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("events: got %d, want 3", len(all))
	}

	posts, err := j.RecentEvents(ctx, EventNewPost, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].PostID != "42" || posts[0].Text != "hello" {
		t.Fatalf("new_post events: %+v", posts)
	}
}

// --- Alerts ---

func TestRecentAlerts_NewestFirst(t *testing.T) {
	j := setupJournal(t, time.Unix(1_800_000_000, 0))
	ctx := context.Background()

	j.RecordAlert(ctx, Alert{Account: "a", Message: "first", ErrorCount: 3, MaxErrors: 3, Status: "monitoring",
		CreatedAt: time.Unix(1_799_999_000, 0)})
	j.RecordAlert(ctx, Alert{Account: "a", Message: "second", ErrorCount: 3, MaxErrors: 3, Status: "standby",
		DeliveryError: "notify: incomplete configuration"})

	alerts, err := j.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("alerts: got %d", len(alerts))
	}
	if alerts[0].Message != "second" || alerts[0].Delivered || alerts[0].DeliveryError == "" {
		t.Fatalf("newest alert: %+v", alerts[0])
	}
	if alerts[1].Message != "first" {
		t.Fatalf("oldest alert: %+v", alerts[1])
	}
}

// --- Cleanup ---

func TestCleanup(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	j := setupJournal(t, now)
	ctx := context.Background()
	old := now.AddDate(0, 0, -40)

	j.RecordHeartbeat(ctx, Heartbeat{Account: "a", State: "running", Timestamp: old})
	j.RecordHeartbeat(ctx, Heartbeat{Account: "a", State: "running"})
	j.LogEvent(ctx, Event{Account: "a", Kind: EventStarted, CreatedAt: old})
	j.RecordAlert(ctx, Alert{Account: "a", Message: "m", Status: "monitoring", CreatedAt: old})

	n, err := j.Cleanup(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("deleted: got %d, want 3", n)
	}

	if n, _ := j.Cleanup(ctx, 0); n != 0 {
		t.Fatalf("zero retention deleted %d rows", n)
	}
}

func TestWriteFailureDoesNotPanic(t *testing.T) {
	j := setupJournal(t, time.Now())
	j.Close()
	// Writes on a closed database are logged and swallowed.
	j.LogEvent(context.Background(), Event{Account: "a", Kind: EventStopped})
	j.RecordHeartbeat(context.Background(), Heartbeat{Account: "a", State: "stopped"})
	j.RecordAlert(context.Background(), Alert{Account: "a", Message: "m", Status: "standby"})
}
