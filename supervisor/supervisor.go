// CLAUDE:SUMMARY Health supervisor: periodic heartbeat cycle over the detector's liveness signals, error_count escalation to one emergency alert per episode.
// Package supervisor watches a running detector and escalates when it stops
// making progress.
//
// Every heartbeat period the supervisor runs five checks (heartbeat
// staleness, worker liveness, detector self-report, resource usage, poll
// cadence). A cycle in which any check fails increments error_count and puts
// the supervisor in StateDegraded; a clean cycle resets error_count and
// returns to StateRunning. When error_count reaches MaxErrors the supervisor
// enters StateFatal and sends one emergency alert. It never stops the
// detector itself: OnFatal is the hook for callers that want to.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/feedwatch/notify"
	"github.com/hazyhaar/feedwatch/observability"
)

// State is the supervisor's view of the run.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDegraded
	StateFatal
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateFatal:
		return "fatal"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Target is the slice of detector state the supervisor reads.
type Target interface {
	Monitoring() bool
	LastPollActivity() time.Time
}

// Journal records supervision history. *observability.Journal satisfies it.
type Journal interface {
	RecordHeartbeat(ctx context.Context, hb observability.Heartbeat)
	RecordAlert(ctx context.Context, a observability.Alert)
}

// Config configures a Supervisor.
type Config struct {
	// Account is the monitored account, for logs and alerts.
	Account string
	// PollInterval is the detector's poll interval. Default: 60s.
	PollInterval time.Duration
	// HeartbeatPeriod is the cycle period. Default: max(10s, PollInterval/2).
	HeartbeatPeriod time.Duration
	// RetryDelay replaces the period after a failed cycle. Default: 5s.
	RetryDelay time.Duration
	// MaxErrors is the error_count that triggers the emergency alert. Default: 3.
	MaxErrors int
	// MaxConsecutiveFailures is how many late-activity cycles are tolerated
	// before the cadence check fails. Default: 5.
	MaxConsecutiveFailures int
	// CPUThreshold (percent) and MemoryThresholdMB are advisory.
	// Defaults: 90 and 500.
	CPUThreshold      float64
	MemoryThresholdMB float64
	// UptimeNotice and WorkerNotice space the advisory uptime and
	// worker-runtime log lines. Defaults: 24h and 1h.
	UptimeNotice time.Duration
	WorkerNotice time.Duration

	// Notifier delivers the emergency alert to Recipient. Nil means alerts
	// are logged as undeliverable.
	Notifier  notify.Notifier
	Recipient string
	// Sampler reads process usage. Nil means the gopsutil process sampler.
	Sampler Sampler
	Journal Journal
	// OnFatal is called once per escalation, after the alert attempt.
	OnFatal func(Alert)

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = max(10*time.Second, c.PollInterval/2)
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.CPUThreshold <= 0 {
		c.CPUThreshold = 90
	}
	if c.MemoryThresholdMB <= 0 {
		c.MemoryThresholdMB = 500
	}
	if c.UptimeNotice <= 0 {
		c.UptimeNotice = 24 * time.Hour
	}
	if c.WorkerNotice <= 0 {
		c.WorkerNotice = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type worker struct {
	done    <-chan struct{}
	started time.Time
}

// Supervisor runs the heartbeat cycle. Cycle and Run belong to one
// goroutine; Status, Watch and Stop are safe from any goroutine.
type Supervisor struct {
	cfg    Config
	target Target
	log    *slog.Logger

	started time.Time
	worker  atomic.Pointer[worker]
	expect  atomic.Bool // true between Watch and Stop

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanos, 0 = none yet
	errorCount    atomic.Int64
	consecutive   atomic.Int64
	alerts        atomic.Int64
	lastError     atomic.Value // string

	// owned by the cycle goroutine
	alerted       bool
	uptimeNoticed int
	workerNoticed int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a supervisor for target.
func New(target Target, cfg Config) *Supervisor {
	cfg.defaults()
	s := &Supervisor{
		cfg:     cfg,
		target:  target,
		log:     cfg.Logger,
		started: cfg.Now(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.lastError.Store("")
	if s.cfg.Sampler == nil {
		ps, err := NewProcessSampler(0)
		if err != nil {
			s.log.Warn("supervisor: resource sampling unavailable", "error", err)
		} else {
			s.cfg.Sampler = ps
		}
	}
	return s
}

// Watch attaches the detector worker. done must be closed when the worker
// goroutine returns. From now on a dead worker or a detector reporting
// "not monitoring" fails the cycle.
func (s *Supervisor) Watch(done <-chan struct{}) {
	s.worker.Store(&worker{done: done, started: s.cfg.Now()})
	s.expect.Store(true)
}

// Period is the effective heartbeat period.
func (s *Supervisor) Period() time.Duration { return s.cfg.HeartbeatPeriod }

// Run cycles until Stop or ctx cancellation. The first cycle runs one period
// after the start.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(StateStopped))

	s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	s.log.Info("supervisor: started", "account", s.cfg.Account,
		"period", s.cfg.HeartbeatPeriod, "max_errors", s.cfg.MaxErrors,
		"max_consecutive_failures", s.cfg.MaxConsecutiveFailures)

	delay := s.cfg.HeartbeatPeriod
	for {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.log.Info("supervisor: context cancelled")
			return
		case <-s.stopCh:
			t.Stop()
			s.log.Info("supervisor: stopped")
			return
		case <-t.C:
		}

		if err := s.Cycle(ctx); err != nil {
			delay = s.cfg.RetryDelay
		} else {
			delay = s.cfg.HeartbeatPeriod
		}
	}
}

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Stop ends Run. Idempotent, non-blocking.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.expect.Store(false)
		s.state.Store(int32(StateStopped))
		close(s.stopCh)
	})
}

// Cycle runs one heartbeat cycle and returns the joined failures of the
// checks that raised, nil when the cycle passed. A failed emergency
// notification is logged and never returned.
func (s *Supervisor) Cycle(ctx context.Context) error {
	now := s.cfg.Now()
	snap := s.checkResources(ctx, now)

	var errs []error
	for _, check := range []func(time.Time) error{
		s.checkHeartbeat,
		s.checkWorker,
		s.checkSelfReport,
		s.checkActivity,
	} {
		if err := check(now); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	if err != nil {
		s.raise(ctx, now, err, snap)
	} else {
		s.pass()
	}

	s.lastHeartbeat.Store(s.cfg.Now().UnixNano())
	s.journalHeartbeat(ctx, now, snap, err)
	return err
}

func (s *Supervisor) raise(ctx context.Context, now time.Time, err error, snap Snapshot) {
	n := int(s.errorCount.Add(1))
	s.lastError.Store(err.Error())

	if n < s.cfg.MaxErrors {
		if s.stateIs(StateStopped) {
			return
		}
		s.state.Store(int32(StateDegraded))
		s.log.Warn("supervisor: health check failed", "account", s.cfg.Account,
			"error", err, "error_count", n, "max_errors", s.cfg.MaxErrors)
		return
	}

	if !s.stateIs(StateStopped) {
		s.state.Store(int32(StateFatal))
	}
	if s.alerted {
		s.log.Error("supervisor: still failing after escalation", "account", s.cfg.Account,
			"error", err, "error_count", n)
		return
	}
	s.alerted = true
	s.escalate(ctx, now, err, n, snap)
}

func (s *Supervisor) pass() {
	if prev := s.errorCount.Swap(0); prev > 0 {
		s.log.Info("supervisor: recovered", "account", s.cfg.Account, "previous_errors", prev)
	}
	s.alerted = false
	s.lastError.Store("")
	if !s.stateIs(StateStopped) {
		s.state.Store(int32(StateRunning))
	}
}

func (s *Supervisor) escalate(ctx context.Context, now time.Time, cause error, n int, snap Snapshot) {
	alert := Alert{
		Timestamp:  now,
		Error:      cause.Error(),
		ErrorCount: n,
		MaxErrors:  s.cfg.MaxErrors,
		Status:     runStatus(s.target.Monitoring()),
		Account:    s.cfg.Account,
		Snapshot:   snap,
	}
	s.alerts.Add(1)
	s.log.Error("supervisor: emergency escalation", "account", s.cfg.Account,
		"error", cause, "error_count", n, "max_errors", s.cfg.MaxErrors, "status", alert.Status)

	sendErr := s.send(ctx, alert)
	if sendErr != nil {
		s.log.Error("supervisor: emergency notification not delivered", "account", s.cfg.Account, "error", sendErr)
	} else {
		s.log.Info("supervisor: emergency notification sent", "account", s.cfg.Account, "to", s.cfg.Recipient)
	}

	if s.cfg.Journal != nil {
		rec := observability.Alert{
			Account:    alert.Account,
			Message:    alert.Error,
			ErrorCount: alert.ErrorCount,
			MaxErrors:  alert.MaxErrors,
			Status:     alert.Status,
			Delivered:  sendErr == nil,
			CreatedAt:  now,
		}
		if sendErr != nil {
			rec.DeliveryError = sendErr.Error()
		}
		s.cfg.Journal.RecordAlert(ctx, rec)
	}

	if s.cfg.OnFatal != nil {
		s.cfg.OnFatal(alert)
	}
}

// send makes the single notification attempt. Neither an error nor a panic
// from the notifier leaves this function.
func (s *Supervisor) send(ctx context.Context, a Alert) (err error) {
	if s.cfg.Notifier == nil {
		return fmt.Errorf("supervisor: no notifier configured: %w", notify.ErrIncompleteConfig)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: notifier panic: %v", r)
		}
	}()
	return s.cfg.Notifier.Send(ctx, a.Message(s.cfg.Recipient))
}

func (s *Supervisor) journalHeartbeat(ctx context.Context, now time.Time, snap Snapshot, err error) {
	if s.cfg.Journal == nil {
		return
	}
	hb := observability.Heartbeat{
		Account:             s.cfg.Account,
		Timestamp:           now,
		State:               s.State().String(),
		ErrorCount:          int(s.errorCount.Load()),
		ConsecutiveFailures: int(s.consecutive.Load()),
		WorkerAlive:         snap.WorkerAlive,
		CPUPercent:          snap.CPUPercent,
		MemoryMB:            snap.MemoryMB,
		Goroutines:          snap.Goroutines,
	}
	if err != nil {
		hb.Error = err.Error()
	}
	s.cfg.Journal.RecordHeartbeat(ctx, hb)
}

// State returns the current state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) stateIs(st State) bool { return s.State() == st }

// Status is a point-in-time snapshot.
type Status struct {
	State                  string    `json:"state"`
	ErrorCount             int       `json:"error_count"`
	MaxErrors              int       `json:"max_errors"`
	ConsecutiveFailures    int       `json:"consecutive_failures"`
	MaxConsecutiveFailures int       `json:"max_consecutive_failures"`
	LastHeartbeat          time.Time `json:"last_heartbeat,omitzero"`
	LastPollActivity       time.Time `json:"last_poll_activity,omitzero"`
	WorkerAlive            bool      `json:"worker_alive"`
	Alerts                 int64     `json:"alerts"`
	LastError              string    `json:"last_error,omitempty"`
}

// Status returns the current supervision state.
func (s *Supervisor) Status() Status {
	st := Status{
		State:                  s.State().String(),
		ErrorCount:             int(s.errorCount.Load()),
		MaxErrors:              s.cfg.MaxErrors,
		ConsecutiveFailures:    int(s.consecutive.Load()),
		MaxConsecutiveFailures: s.cfg.MaxConsecutiveFailures,
		LastPollActivity:       s.target.LastPollActivity(),
		WorkerAlive:            s.workerAlive(),
		Alerts:                 s.alerts.Load(),
	}
	if ns := s.lastHeartbeat.Load(); ns != 0 {
		st.LastHeartbeat = time.Unix(0, ns)
	}
	st.LastError, _ = s.lastError.Load().(string)
	return st
}

func (s *Supervisor) workerAlive() bool {
	w := s.worker.Load()
	if w == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) snapshotBase(now time.Time) Snapshot {
	return Snapshot{
		PID:         os.Getpid(),
		Uptime:      now.Sub(s.started),
		Goroutines:  runtime.NumGoroutine(),
		WorkerAlive: s.workerAlive(),
	}
}

func runStatus(monitoring bool) string {
	if monitoring {
		return "monitoring"
	}
	return "standby"
}
