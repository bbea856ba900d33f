// CLAUDE:SUMMARY Runner owning one monitoring run: browser session, detector worker, supervisor worker, journal events; blocking Start, non-blocking Stop, Status snapshot.
// Package monitor runs one monitoring session: it launches the browser,
// starts the detector's poll loop on a worker goroutine, supervises it, and
// exposes Start/Stop/Status to callers (CLI, HTTP, MCP).
//
//	m := monitor.New(monitor.Options{Detector: detector.Config{Credential: tok}},
//		monitor.WithNotifier(smtp), monitor.WithJournal(j))
//	err := m.Start(ctx, "someone", time.Minute, monitor.NotifyHandler(smtp, "me@example.org", j, nil))
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/feedwatch/browser"
	"github.com/hazyhaar/feedwatch/detector"
	"github.com/hazyhaar/feedwatch/notify"
	"github.com/hazyhaar/feedwatch/observability"
	"github.com/hazyhaar/feedwatch/supervisor"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("monitor: already running")

// SessionFactory opens a fresh browser session for one run.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Options configure the components of a run. Account, PollInterval and the
// logger/notifier/journal/sampler fields of the nested configs are filled
// by the Monitor.
type Options struct {
	Browser    browser.Config
	Detector   detector.Config
	Supervisor supervisor.Config
	// Recipient receives new-post mails and emergency alerts.
	Recipient string
	// StopOnFatal stops the run when the supervisor escalates. Off by
	// default: escalation only alerts.
	StopOnFatal bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSessionFactory replaces the rod launcher, typically with a fake.
func WithSessionFactory(f SessionFactory) Option { return func(m *Monitor) { m.newSession = f } }

// WithNotifier sets the emergency-alert notifier.
func WithNotifier(n notify.Notifier) Option { return func(m *Monitor) { m.notifier = n } }

// WithJournal enables the observability journal.
func WithJournal(j *observability.Journal) Option { return func(m *Monitor) { m.journal = j } }

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.log = l } }

// WithSampler overrides the supervisor's process sampler.
func WithSampler(s supervisor.Sampler) Option { return func(m *Monitor) { m.sampler = s } }

// Monitor runs at most one monitoring session at a time.
type Monitor struct {
	opts       Options
	newSession SessionFactory
	notifier   notify.Notifier
	journal    *observability.Journal
	log        *slog.Logger
	sampler    supervisor.Sampler

	mu        sync.Mutex
	running   bool
	stopping  bool
	account   string
	interval  time.Duration
	startedAt time.Time
	det       *detector.Detector
	sup       *supervisor.Supervisor
}

// New creates a Monitor.
func New(opts Options, o ...Option) *Monitor {
	m := &Monitor{opts: opts, log: slog.Default()}
	for _, fn := range o {
		fn(m)
	}
	if m.newSession == nil {
		m.newSession = func(ctx context.Context) (browser.Session, error) {
			cfg := m.opts.Browser
			if cfg.Logger == nil {
				cfg.Logger = m.log
			}
			return browser.Launch(ctx, cfg)
		}
	}
	return m
}

// Start runs a monitoring session for account and blocks until Stop, ctx
// cancellation, or a fatal detector error. Stop yields nil, cancellation
// yields ctx.Err(), and fatal errors (see detector.IsFatal) are returned
// as-is. The browser session is released on every path.
func (m *Monitor) Start(ctx context.Context, account string, interval time.Duration, onNewPost detector.Handler) error {
	account = detector.NormalizeAccount(account)
	if account == "" {
		return &detector.NotFoundError{Account: account}
	}
	if interval <= 0 {
		return fmt.Errorf("monitor: invalid poll interval %s", interval)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running, m.stopping = true, false
	m.account, m.interval, m.startedAt = account, interval, time.Now()
	m.det, m.sup = nil, nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.log.Info("monitor: starting", "account", account, "interval", interval)
	sess, err := m.newSession(ctx)
	if err != nil {
		m.event(ctx, observability.Event{Account: account, Kind: observability.EventFatal, Detail: err.Error()})
		return fmt.Errorf("monitor: open browser: %w", err)
	}

	det := detector.New(sess, m.detectorConfig(account))
	sup := supervisor.New(det, m.supervisorConfig(account, interval))

	m.mu.Lock()
	m.det, m.sup = det, sup
	stopping := m.stopping
	m.mu.Unlock()
	if stopping {
		det.Stop()
		m.log.Info("monitor: stopped before the session started", "account", account)
		return nil
	}

	m.event(ctx, observability.Event{Account: account, Kind: observability.EventStarted,
		Detail: fmt.Sprintf("interval=%s", interval)})

	workerDone := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		defer close(workerDone)
		defer func() {
			if r := recover(); r != nil {
				det.Stop()
				errCh <- fmt.Errorf("monitor: detector worker panic: %v", r)
			}
		}()
		errCh <- det.RunLoop(ctx, account, interval, onNewPost)
	}()

	sup.Watch(workerDone)
	go sup.Run(ctx)

	err = <-errCh
	sup.Stop()
	<-sup.Done()

	if errors.Is(err, detector.ErrStopped) {
		err = nil
	}
	switch {
	case err == nil:
		m.log.Info("monitor: stopped", "account", account)
		m.event(context.WithoutCancel(ctx), observability.Event{Account: account, Kind: observability.EventStopped})
	case detector.IsFatal(err):
		m.log.Error("monitor: fatal error", "account", account, "error", err)
		m.event(context.WithoutCancel(ctx), observability.Event{Account: account, Kind: observability.EventFatal, Detail: err.Error()})
	default:
		m.log.Info("monitor: ended", "account", account, "reason", err)
		m.event(context.WithoutCancel(ctx), observability.Event{Account: account, Kind: observability.EventStopped, Detail: err.Error()})
	}
	return err
}

// Stop requests the running session to end. Non-blocking, idempotent, and a
// no-op when nothing runs.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopping = true
	det := m.det
	running := m.running
	m.mu.Unlock()

	if !running || det == nil {
		return
	}
	m.log.Info("monitor: stop requested")
	go det.Stop()
}

// Running reports whether a session is in progress.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) detectorConfig(account string) detector.Config {
	cfg := m.opts.Detector
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	prev := cfg.OnTransient
	cfg.OnTransient = func(err error) {
		m.event(context.Background(), observability.Event{Account: account, Kind: observability.EventTransient, Detail: err.Error()})
		if prev != nil {
			prev(err)
		}
	}
	return cfg
}

func (m *Monitor) supervisorConfig(account string, interval time.Duration) supervisor.Config {
	cfg := m.opts.Supervisor
	cfg.Account = account
	cfg.PollInterval = interval
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	if cfg.Notifier == nil {
		cfg.Notifier = m.notifier
	}
	if cfg.Recipient == "" {
		cfg.Recipient = m.opts.Recipient
	}
	if cfg.Sampler == nil {
		cfg.Sampler = m.sampler
	}
	if cfg.Journal == nil && m.journal != nil {
		cfg.Journal = m.journal
	}
	prev := cfg.OnFatal
	cfg.OnFatal = func(a supervisor.Alert) {
		if prev != nil {
			prev(a)
		}
		if m.opts.StopOnFatal {
			m.log.Warn("monitor: stopping after supervisor escalation", "account", account)
			m.Stop()
		}
	}
	return cfg
}

func (m *Monitor) event(ctx context.Context, ev observability.Event) {
	if m.journal != nil {
		m.journal.LogEvent(ctx, ev)
	}
}
