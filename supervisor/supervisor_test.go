package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/feedwatch/notify"
	"github.com/hazyhaar/feedwatch/observability"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type target struct {
	monitoring atomic.Bool
	activity   atomic.Int64
}

func (t *target) Monitoring() bool { return t.monitoring.Load() }

func (t *target) LastPollActivity() time.Time {
	ns := t.activity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *target) polled(at time.Time) { t.activity.Store(at.UnixNano()) }

type sampler struct{ usage Usage }

func (s sampler) Sample(context.Context) (Usage, error) { return s.usage, nil }

type recorder struct {
	mu     sync.Mutex
	msgs   []notify.Message
	err    error
	panics bool
}

func (r *recorder) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	if r.panics {
		panic("smtp exploded")
	}
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type journal struct {
	mu         sync.Mutex
	heartbeats []observability.Heartbeat
	alerts     []observability.Alert
}

func (j *journal) RecordHeartbeat(_ context.Context, hb observability.Heartbeat) {
	j.mu.Lock()
	j.heartbeats = append(j.heartbeats, hb)
	j.mu.Unlock()
}

func (j *journal) RecordAlert(_ context.Context, a observability.Alert) {
	j.mu.Lock()
	j.alerts = append(j.alerts, a)
	j.mu.Unlock()
}

type fixture struct {
	clk    *clock
	target *target
	notif  *recorder
	jrnl   *journal
	sup    *Supervisor
	fatals int
	worker chan struct{}
}

// setup builds a supervisor watching a live, monitoring worker with a 60s
// poll interval (30s heartbeat period).
func setup(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		clk:    &clock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)},
		target: &target{},
		notif:  &recorder{},
		jrnl:   &journal{},
		worker: make(chan struct{}),
	}
	f.target.monitoring.Store(true)
	f.target.polled(f.clk.Now())

	cfg := Config{
		Account:      "someone",
		PollInterval: 60 * time.Second,
		Notifier:     f.notif,
		Recipient:    "ops@example.org",
		Sampler:      sampler{usage: Usage{CPUPercent: 3, MemoryMB: 120}},
		Journal:      f.jrnl,
		OnFatal:      func(Alert) { f.fatals++ },
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          f.clk.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.sup = New(f.target, cfg)
	f.sup.Watch(f.worker)
	return f
}

// tick advances one heartbeat period and runs a cycle.
func (f *fixture) tick() error {
	f.clk.Advance(f.sup.Period())
	return f.sup.Cycle(context.Background())
}

// tickFresh is tick with poll activity recorded just before the cycle.
func (f *fixture) tickFresh() error {
	f.clk.Advance(f.sup.Period())
	f.target.polled(f.clk.Now())
	return f.sup.Cycle(context.Background())
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestDefaults_HeartbeatPeriod(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		4 * time.Second:  10 * time.Second,
		60 * time.Second: 30 * time.Second,
		10 * time.Minute: 5 * time.Minute,
	}
	for interval, want := range cases {
		s := New(&target{}, Config{PollInterval: interval, Sampler: sampler{}})
		if got := s.Period(); got != want {
			t.Errorf("interval %s: period %s, want %s", interval, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Poll cadence
// ---------------------------------------------------------------------------

func TestCadence_RaisesExactlyOnFifthBreach(t *testing.T) {
	f := setup(t, nil)
	// Age the last activity beyond 2x60s before the first cycle.
	f.clk.Advance(2 * time.Minute)

	for i := 1; i <= 4; i++ {
		if err := f.tick(); err != nil {
			t.Fatalf("cycle %d raised early: %v", i, err)
		}
		if got := f.sup.Status().ConsecutiveFailures; got != i {
			t.Fatalf("cycle %d: consecutive failures %d", i, got)
		}
	}

	err := f.tick()
	if !errors.Is(err, ErrActivityStale) {
		t.Fatalf("cycle 5: got %v, want ErrActivityStale", err)
	}
	if st := f.sup.Status(); st.ErrorCount != 1 || st.State != "degraded" {
		t.Fatalf("status after cycle 5: %+v", st)
	}
}

func TestCadence_ResetsWhenActivityResumes(t *testing.T) {
	f := setup(t, nil)
	f.clk.Advance(2 * time.Minute)

	for i := 0; i < 4; i++ {
		if err := f.tick(); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.tickFresh(); err != nil {
		t.Fatalf("fresh cycle raised: %v", err)
	}
	if got := f.sup.Status().ConsecutiveFailures; got != 0 {
		t.Fatalf("consecutive failures not reset: %d", got)
	}

	f.target.polled(f.clk.Now().Add(-2 * time.Minute))
	for i := 0; i < 4; i++ {
		if err := f.tick(); err != nil {
			t.Fatalf("counter restarted late: cycle %d raised %v", i+1, err)
		}
	}
}

func TestCadence_NoPollYetUsesStartTime(t *testing.T) {
	f := setup(t, nil)
	f.target.activity.Store(0)

	// Up to 2x interval after the start: inside the window.
	for i := 0; i < 4; i++ {
		f.tick()
	}
	if f.sup.Status().ConsecutiveFailures != 0 {
		t.Fatal("counted a breach inside the window")
	}
	f.tick()
	if f.sup.Status().ConsecutiveFailures != 1 {
		t.Fatal("never-polled detector not counted as late")
	}
}

// ---------------------------------------------------------------------------
// Escalation
// ---------------------------------------------------------------------------

func TestEscalation_OneAttemptPerEpisode(t *testing.T) {
	f := setup(t, nil)
	f.notif.err = errors.New("smtp: connection refused")
	f.target.monitoring.Store(false)

	for i := 1; i <= 2; i++ {
		if err := f.tickFresh(); !errors.Is(err, ErrNotMonitoring) {
			t.Fatalf("cycle %d: got %v", i, err)
		}
		if f.notif.count() != 0 {
			t.Fatalf("cycle %d: notified before max_errors", i)
		}
		if f.sup.State() != StateDegraded {
			t.Fatalf("cycle %d: state %s", i, f.sup.State())
		}
	}

	if err := f.tickFresh(); !errors.Is(err, ErrNotMonitoring) {
		t.Fatalf("cycle 3: got %v", err)
	}
	if f.notif.count() != 1 {
		t.Fatalf("cycle 3: %d notification attempts, want 1", f.notif.count())
	}
	if f.sup.State() != StateFatal {
		t.Fatalf("cycle 3: state %s, want fatal", f.sup.State())
	}

	f.tickFresh()
	f.tickFresh()
	if f.notif.count() != 1 {
		t.Fatalf("re-notified within the same episode: %d", f.notif.count())
	}
	if f.fatals != 1 {
		t.Fatalf("OnFatal calls: %d", f.fatals)
	}

	// A passing cycle re-arms the latch.
	f.target.monitoring.Store(true)
	if err := f.tickFresh(); err != nil {
		t.Fatal(err)
	}
	if st := f.sup.Status(); st.ErrorCount != 0 || st.State != "running" {
		t.Fatalf("after recovery: %+v", st)
	}

	f.target.monitoring.Store(false)
	for i := 0; i < 3; i++ {
		f.tickFresh()
	}
	if f.notif.count() != 2 {
		t.Fatalf("second episode: %d attempts, want 2", f.notif.count())
	}

	if len(f.jrnl.alerts) != 2 || f.jrnl.alerts[0].Delivered {
		t.Fatalf("journalled alerts: %+v", f.jrnl.alerts)
	}
}

func TestEscalation_AlertPayload(t *testing.T) {
	var got Alert
	f := setup(t, func(c *Config) { c.OnFatal = func(a Alert) { got = a } })
	f.target.monitoring.Store(false)

	for i := 0; i < 3; i++ {
		f.tickFresh()
	}

	if got.Account != "someone" || got.ErrorCount != 3 || got.MaxErrors != 3 {
		t.Fatalf("alert: %+v", got)
	}
	if got.Status != "standby" {
		t.Fatalf("status: %q", got.Status)
	}
	if !got.Snapshot.WorkerAlive || got.Snapshot.PID == 0 || got.Snapshot.MemoryMB != 120 {
		t.Fatalf("snapshot: %+v", got.Snapshot)
	}
	if !strings.Contains(got.Error, "not monitoring") {
		t.Fatalf("error text: %q", got.Error)
	}

	msg := f.notif.msgs[0]
	if msg.Recipient != "ops@example.org" || !strings.Contains(msg.Subject, "@someone") {
		t.Fatalf("message: %+v", msg)
	}
	for _, want := range []string{"3/3", "standby", "@someone", "Worker alive", "120.0 MB"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("alert text missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestEscalation_NilNotifierIsLogged(t *testing.T) {
	f := setup(t, func(c *Config) { c.Notifier = nil })
	f.target.monitoring.Store(false)

	for i := 0; i < 3; i++ {
		f.tickFresh()
	}
	if f.fatals != 1 {
		t.Fatalf("OnFatal calls: %d", f.fatals)
	}
	if len(f.jrnl.alerts) != 1 {
		t.Fatalf("alerts: %d", len(f.jrnl.alerts))
	}
	if a := f.jrnl.alerts[0]; a.Delivered || !strings.Contains(a.DeliveryError, "incomplete configuration") {
		t.Fatalf("alert record: %+v", a)
	}
}

func TestEscalation_NotifierPanicContained(t *testing.T) {
	f := setup(t, nil)
	f.notif.panics = true
	f.target.monitoring.Store(false)

	for i := 0; i < 3; i++ {
		f.tickFresh()
	}
	if f.notif.count() != 1 {
		t.Fatalf("attempts: %d", f.notif.count())
	}
	if f.jrnl.alerts[0].Delivered {
		t.Fatal("panicking notifier recorded as delivered")
	}
}

// ---------------------------------------------------------------------------
// Other checks
// ---------------------------------------------------------------------------

func TestWorkerDeath(t *testing.T) {
	f := setup(t, nil)
	close(f.worker)

	if err := f.tickFresh(); !errors.Is(err, ErrWorkerDead) {
		t.Fatalf("got %v, want ErrWorkerDead", err)
	}
	if f.sup.Status().WorkerAlive {
		t.Fatal("status reports a dead worker alive")
	}
}

func TestHeartbeatStaleness(t *testing.T) {
	f := setup(t, nil)
	if err := f.tickFresh(); err != nil {
		t.Fatal(err)
	}

	// The supervisor slept through more than two periods.
	f.clk.Advance(3 * f.sup.Period())
	f.target.polled(f.clk.Now())
	if err := f.sup.Cycle(context.Background()); !errors.Is(err, ErrHeartbeatStale) {
		t.Fatalf("got %v, want ErrHeartbeatStale", err)
	}

	// The heartbeat was refreshed by the failed cycle.
	if err := f.tickFresh(); err != nil {
		t.Fatalf("staleness latched: %v", err)
	}
}

func TestResources_AdvisoryOnly(t *testing.T) {
	f := setup(t, func(c *Config) {
		c.Sampler = sampler{usage: Usage{CPUPercent: 99, MemoryMB: 2048}}
	})
	if err := f.tickFresh(); err != nil {
		t.Fatalf("resource thresholds raised: %v", err)
	}
	hb := f.jrnl.heartbeats[len(f.jrnl.heartbeats)-1]
	if hb.CPUPercent != 99 || hb.MemoryMB != 2048 || hb.State != "running" {
		t.Fatalf("heartbeat row: %+v", hb)
	}
}

func TestChecksIdleAfterStop(t *testing.T) {
	f := setup(t, nil)
	f.sup.Stop()
	f.target.monitoring.Store(false)
	close(f.worker)

	if err := f.tickFresh(); err != nil {
		t.Fatalf("stopped supervisor raised: %v", err)
	}
	if f.sup.State() != StateStopped {
		t.Fatalf("state: %s", f.sup.State())
	}
}

// ---------------------------------------------------------------------------
// Run / Stop
// ---------------------------------------------------------------------------

func TestRun_StopIsIdempotent(t *testing.T) {
	tgt := &target{}
	tgt.monitoring.Store(true)
	tgt.polled(time.Now())
	jr := &journal{}
	s := New(tgt, Config{
		Account:         "someone",
		PollInterval:    time.Hour,
		HeartbeatPeriod: time.Millisecond,
		RetryDelay:      time.Millisecond,
		Sampler:         sampler{},
		Journal:         jr,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	go s.Run(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		jr.mu.Lock()
		n := len(jr.heartbeats)
		jr.mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("supervisor never cycled")
		case <-time.After(time.Millisecond):
		}
	}

	s.Stop()
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if s.State() != StateStopped {
		t.Fatalf("state: %s", s.State())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	s := New(&target{}, Config{HeartbeatPeriod: time.Hour, Sampler: sampler{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
