// CLAUDE:SUMMARY CLI entry point for feedwatch: loads YAML/env/flags, wires browser, detector, supervisor, mail, journal, HTTP and MCP, runs until signal.
// Command feedwatch watches one social account's feed and mails every new post.
//
// Usage:
//
//	feedwatch -config feedwatch.yaml                  # run from a config file
//	feedwatch -account someone -token <auth_token>     # quick start, no mail
//	feedwatch -config feedwatch.yaml -test-email       # send a test mail and exit
//	feedwatch -capture-token                           # log in by hand, print the session token
//	feedwatch -config feedwatch.yaml -mcp              # also serve MCP tools on stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedwatch/browser"
	"github.com/hazyhaar/feedwatch/config"
	"github.com/hazyhaar/feedwatch/detector"
	"github.com/hazyhaar/feedwatch/monitor"
	"github.com/hazyhaar/feedwatch/notify"
	"github.com/hazyhaar/feedwatch/observability"
	"github.com/hazyhaar/feedwatch/supervisor"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", env("FEEDWATCH_CONFIG", ""), "path to feedwatch.yaml")
	account := flag.String("account", "", "account to watch (overrides config)")
	token := flag.String("token", "", "session token (overrides config and "+config.EnvCredential+")")
	interval := flag.Int("interval", 0, "poll interval in seconds (overrides config)")
	headless := flag.String("headless", "", "true|false (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	statusAddr := flag.String("status-addr", "", "HTTP status listen address, e.g. 127.0.0.1:8787")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	testEmail := flag.Bool("test-email", false, "send a test email and exit")
	captureToken := flag.Bool("capture-token", false, "open a visible browser, wait for a manual login, print the session token")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.ApplyEnv(os.Getenv)
	applyFlags(cfg, *account, *token, *interval, *headless, *logLevel, *statusAddr)

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *captureToken:
		err = runCapture(ctx, logger, cfg)
	case *testEmail:
		err = runTestEmail(ctx, logger, cfg)
	default:
		err = run(ctx, logger, cfg, *serveMCP)
	}
	if err != nil {
		logger.Error("feedwatch: fatal", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func applyFlags(cfg *config.Config, account, token string, interval int, headless, level, addr string) {
	if account != "" {
		cfg.Account = detector.NormalizeAccount(account)
	}
	if token != "" {
		cfg.Credential = token
	}
	if interval > 0 {
		cfg.PollIntervalSeconds = interval
	}
	switch strings.ToLower(headless) {
	case "true", "1", "yes":
		v := true
		cfg.Browser.Headless = &v
	case "false", "0", "no":
		v := false
		cfg.Browser.Headless = &v
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if addr != "" {
		cfg.Status.Addr = addr
	}
}

// newLogger logs JSON to stderr and, when a directory is configured, to a
// daily file feedwatch_YYYYMMDD.log in it.
func newLogger(lc config.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if lc.Dir != "" {
		if err := os.MkdirAll(lc.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
		name := filepath.Join(lc.Dir, "feedwatch_"+time.Now().Format("20060102")+".log")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

// newNotifier combines SMTP and webhook delivery. It returns nil when
// neither is configured.
func newNotifier(logger *slog.Logger, cfg *config.Config) notify.Notifier {
	var out notify.Multi
	if cfg.EmailComplete() {
		sc := cfg.SMTP()
		sc.Logger = logger
		smtp, err := notify.NewSMTP(sc)
		if err != nil {
			logger.Warn("feedwatch: smtp disabled", "error", err)
		} else {
			out = append(out, smtp)
		}
	} else {
		logger.Warn("feedwatch: email incomplete, new posts will only be logged")
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notify.NewWebhook(cfg.Webhook.URL, notify.WithWebhookLogger(logger)))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, serveMCP bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var journal *observability.Journal
	if cfg.Observability.DBPath != "" {
		j, err := observability.Open(cfg.Observability.DBPath, observability.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		if n, err := j.Cleanup(ctx, cfg.Observability.RetentionDays); err != nil {
			logger.Warn("feedwatch: journal cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("feedwatch: journal cleanup", "deleted", n)
		}
		journal = j
	}

	notifier := newNotifier(logger, cfg)
	recipient := cfg.Recipient()

	opts := []monitor.Option{monitor.WithLogger(logger), monitor.WithNotifier(notifier)}
	if journal != nil {
		opts = append(opts, monitor.WithJournal(journal))
	}
	m := monitor.New(monitor.Options{
		Browser: browser.Config{
			Headless:         cfg.Browser.IsHeadless(),
			ExecutablePath:   cfg.Browser.ExecutablePath,
			RemoteURL:        cfg.Browser.RemoteURL,
			Stealth:          cfg.Browser.Stealth,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
		},
		Detector: detector.Config{
			Credential:    cfg.Credential,
			SiteURL:       cfg.Browser.SiteURL,
			CookieName:    cfg.Browser.CookieName,
			WaitTimeout:   cfg.Browser.WaitTimeout,
			IncludePinned: cfg.Browser.IncludePinned,
		},
		Supervisor: supervisor.Config{
			HeartbeatPeriod:        cfg.Supervisor.HeartbeatPeriod,
			RetryDelay:             cfg.Supervisor.RetryDelay,
			MaxErrors:              cfg.Supervisor.MaxErrors,
			MaxConsecutiveFailures: cfg.Supervisor.MaxConsecutiveFailures,
			CPUThreshold:           cfg.Supervisor.CPUThreshold,
			MemoryThresholdMB:      cfg.Supervisor.MemoryThresholdMB,
		},
		Recipient:   recipient,
		StopOnFatal: cfg.Supervisor.StopOnFatal,
	}, opts...)

	if cfg.Status.Addr != "" {
		srv := startHTTP(logger, cfg.Status.Addr, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("feedwatch: http shutdown", "error", err)
			}
		}()
	}

	if serveMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "feedwatch", Version: version}, nil)
		m.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("feedwatch: mcp server", "error", err)
			}
		}()
	}

	handler := monitor.NotifyHandler(notifier, recipient, journal, logger)
	err := m.Start(ctx, cfg.Account, cfg.Interval(), handler)
	if errors.Is(err, context.Canceled) {
		logger.Info("feedwatch: interrupted, shutting down")
		return nil
	}
	return err
}

func startHTTP(logger *slog.Logger, addr string, m *monitor.Monitor) *http.Server {
	r := chi.NewRouter()
	m.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("feedwatch: status server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("feedwatch: status server", "error", err)
		}
	}()
	return srv
}

func runTestEmail(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	sc := cfg.SMTP()
	sc.Logger = logger
	smtp, err := notify.NewSMTP(sc)
	if err != nil {
		return err
	}
	recipient := cfg.Recipient()
	if err := smtp.Send(ctx, notify.TestMessage(recipient)); err != nil {
		return fmt.Errorf("test email: %w", err)
	}
	logger.Info("feedwatch: test email sent", "to", recipient)
	return nil
}

// runCapture opens a visible browser on the site, waits for the user to log
// in by hand, and prints the session cookie value.
func runCapture(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	sess, err := browser.Launch(ctx, browser.Config{
		Headless:       false,
		ExecutablePath: cfg.Browser.ExecutablePath,
		RemoteURL:      cfg.Browser.RemoteURL,
		Stealth:        cfg.Browser.Stealth,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer sess.Quit()

	if err := sess.Open(ctx, cfg.Browser.SiteURL+"/login"); err != nil {
		return err
	}
	logger.Info("feedwatch: log in in the opened window, waiting for the session cookie", "cookie", cfg.Browser.CookieName)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	tick := time.NewTicker(2 * time.Second)
	defer tick.Stop()
	for {
		cookies, err := sess.Cookies(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if strings.EqualFold(c.Name, cfg.Browser.CookieName) && c.Value != "" {
				fmt.Println(c.Value)
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no %s cookie: %w", cfg.Browser.CookieName, ctx.Err())
		case <-tick.C:
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
