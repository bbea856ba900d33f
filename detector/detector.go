// Package detector watches one account's feed through a browser session and
// decides, on every poll, whether the newest post is new.
//
// The first successful poll records a baseline and is never reported. After
// that a post is new when its id or its text differs from the baseline.
//
//	d := detector.New(sess, detector.Config{Credential: token})
//	err := d.RunLoop(ctx, "someone", time.Minute, func(account string, p detector.Post) {
//		// mail it
//	})
//
// Only session and navigation failures end RunLoop. Anything that goes wrong
// inside one poll is logged and retried after the normal interval.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/feedwatch/browser"
)

// Handler receives each new post, synchronously on the polling goroutine.
// A slow handler delays the next poll.
type Handler func(account string, post Post)

// Config configures a Detector.
type Config struct {
	// Credential is the opaque session token injected as a cookie.
	Credential string
	// SiteURL is the site root. Default: https://x.com.
	SiteURL string
	// CookieName carries the credential. Default: auth_token.
	CookieName string
	// WaitTimeout bounds every DOM wait. Default: 10s.
	WaitTimeout time.Duration
	// IncludePinned keeps a pinned post at the top of the feed as the newest
	// post. Off by default: the pinned post is skipped.
	IncludePinned bool
	Selectors     Selectors

	// OnTransient is called for every transient poll failure.
	OnTransient func(err error)

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.SiteURL == "" {
		c.SiteURL = "https://x.com"
	}
	c.SiteURL = strings.TrimRight(c.SiteURL, "/")
	if c.CookieName == "" {
		c.CookieName = "auth_token"
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 10 * time.Second
	}
	c.Selectors.defaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Polls             int64 `json:"polls"`
	NewPosts          int64 `json:"new_posts"`
	TransientFailures int64 `json:"transient_failures"`
	Panics            int64 `json:"panics"`
}

// Detector owns one browser session. Its exported readers (Monitoring,
// LastPollActivity, Stats, Baseline) are safe to call from other goroutines;
// everything else belongs to the goroutine running RunLoop.
type Detector struct {
	cfg  Config
	sess browser.Session
	log  *slog.Logger

	account  atomic.Value // string
	baseline atomic.Pointer[Post]

	monitoring   atomic.Bool
	lastActivity atomic.Int64 // unix nanos, 0 = never

	polls     atomic.Int64
	newPosts  atomic.Int64
	transient atomic.Int64
	panics    atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Detector on top of an open browser session. The detector
// takes ownership of sess and releases it on Stop.
func New(sess browser.Session, cfg Config) *Detector {
	cfg.defaults()
	d := &Detector{
		cfg:    cfg,
		sess:   sess,
		log:    cfg.Logger,
		stopCh: make(chan struct{}),
	}
	d.account.Store("")
	return d
}

// EstablishSession opens the site, injects the credential cookie on the
// domain the browser actually landed on, reloads, and waits for the
// logged-in marker. Any failure is an *AuthError.
func (d *Detector) EstablishSession(ctx context.Context) error {
	if d.stopped() {
		return ErrStopped
	}
	if d.cfg.Credential == "" {
		return &AuthError{Reason: "empty credential"}
	}

	d.log.Info("detector: establishing session", "site", d.cfg.SiteURL)
	if err := d.sess.Open(ctx, d.cfg.SiteURL); err != nil {
		return &AuthError{Reason: "open site", Cause: err}
	}

	landed, err := d.sess.CurrentURL(ctx)
	if err != nil {
		return &AuthError{Reason: "resolve landing url", Cause: err}
	}
	domain := cookieDomain(landed, d.cfg.SiteURL)
	d.log.Debug("detector: cookie domain resolved", "landed", landed, "domain", domain)

	cookie := browser.Cookie{
		Name:     d.cfg.CookieName,
		Value:    d.cfg.Credential,
		Domain:   domain,
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
	}
	if err := d.sess.AddCookie(ctx, cookie); err != nil {
		d.log.Warn("detector: domain cookie rejected, retrying unscoped", "domain", domain, "error", err)
		cookie.Domain = ""
		if err := d.sess.AddCookie(ctx, cookie); err != nil {
			return &AuthError{Reason: "inject credential", Cause: err}
		}
	}

	if err := d.sess.Refresh(ctx); err != nil {
		return &AuthError{Reason: "reload after cookie", Cause: err}
	}

	if d.stopped() {
		return ErrStopped
	}
	if _, err := d.sess.FindFirst(ctx, d.cfg.Selectors.LoggedIn, d.cfg.WaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return &AuthError{Reason: "wait for logged-in marker", Cause: err}
		}
		if _, err := d.sess.FindFirst(ctx, d.cfg.Selectors.LoggedInAlt, time.Second); err != nil {
			return &AuthError{Reason: "logged-in marker not found"}
		}
	}

	d.log.Info("detector: session established")
	return nil
}

// NavigateToTarget loads the account's feed. It returns FeedEmpty when the
// page rendered but holds no post yet, *NotFoundError or *PrivateError when
// the page says so, and *NavigationError when the page could not be loaded
// or read.
func (d *Detector) NavigateToTarget(ctx context.Context, account string) (FeedState, error) {
	if d.stopped() {
		return FeedEmpty, ErrStopped
	}
	name := NormalizeAccount(account)
	if name == "" {
		return FeedEmpty, &NotFoundError{Account: account}
	}
	d.account.Store(name)

	feedURL := d.cfg.SiteURL + "/" + url.PathEscape(name)
	d.log.Info("detector: opening feed", "account", name, "url", feedURL)
	if err := d.sess.Open(ctx, feedURL); err != nil {
		return FeedEmpty, &NavigationError{Account: name, Op: "open feed", Cause: err}
	}

	_, err := d.sess.FindFirst(ctx, d.cfg.Selectors.Post, d.cfg.WaitTimeout)
	if err == nil {
		d.log.Info("detector: feed ready", "account", name)
		return FeedReady, nil
	}
	if !errors.Is(err, browser.ErrTimeout) {
		return FeedEmpty, &NavigationError{Account: name, Op: "wait for posts", Cause: err}
	}

	text, err := d.sess.PageText(ctx)
	if err != nil {
		return FeedEmpty, &NavigationError{Account: name, Op: "read feed page", Cause: err}
	}
	if containsAny(text, notFoundPhrases) {
		return FeedEmpty, &NotFoundError{Account: name}
	}
	if containsAny(text, privatePhrases) {
		return FeedEmpty, &PrivateError{Account: name}
	}

	d.log.Warn("detector: feed has no posts yet", "account", name)
	return FeedEmpty, nil
}

// PollOnce reloads the feed and extracts the newest post. A wait timeout is a
// transient failure: it is reported through OnTransient and PollOnce returns
// (nil, nil). Other errors are returned.
func (d *Detector) PollOnce(ctx context.Context) (*Post, error) {
	if d.stopped() {
		return nil, ErrStopped
	}
	if err := d.sess.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("detector: reload feed: %w", err)
	}

	if d.stopped() {
		return nil, ErrStopped
	}
	els, err := d.sess.FindAll(ctx, d.cfg.Selectors.Post, d.cfg.WaitTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			d.transientFailure(fmt.Errorf("detector: no post within %s: %w", d.cfg.WaitTimeout, err))
			return nil, nil
		}
		return nil, fmt.Errorf("detector: find posts: %w", err)
	}

	ex, err := d.newest(els)
	if err != nil {
		return nil, err
	}

	id := ex.NativeID
	if id == "" {
		id = ContentID(ex.Text)
	}
	now := d.cfg.Now()
	post := &Post{
		ID:         id,
		Text:       ex.Text,
		URL:        ex.URL,
		HTML:       ex.HTML,
		ObservedAt: now,
	}

	d.polls.Add(1)
	d.lastActivity.Store(now.UnixNano())
	d.log.Debug("detector: polled", "id", post.ID, "text", post.Preview(50))
	return post, nil
}

// newest picks the first non-pinned post, or the first post when every
// element is pinned or pinned posts are included.
func (d *Detector) newest(els []browser.Element) (Extraction, error) {
	var first Extraction
	for i, el := range els {
		ex, err := ParsePost(el.HTML, d.cfg.Selectors, d.cfg.SiteURL)
		if err != nil {
			return Extraction{}, err
		}
		if i == 0 {
			first = ex
		}
		if d.cfg.IncludePinned || !ex.Pinned {
			return ex, nil
		}
	}
	return first, nil
}

// CheckForNew polls once and compares against the baseline. The first
// successful poll only records the baseline.
func (d *Detector) CheckForNew(ctx context.Context) (*Post, error) {
	post, err := d.PollOnce(ctx)
	if err != nil || post == nil {
		return nil, err
	}

	base := d.baseline.Load()
	if base == nil {
		d.baseline.Store(post)
		d.log.Info("detector: baseline recorded", "id", post.ID, "text", post.Preview(50))
		return nil, nil
	}
	if base.Same(*post) {
		return nil, nil
	}

	d.baseline.Store(post)
	d.newPosts.Add(1)
	d.log.Info("detector: new post", "id", post.ID, "text", post.Preview(50), "url", post.URL)
	return post, nil
}

// RunLoop establishes the session, opens the feed, then polls every interval
// until Stop or ctx cancellation. Session and navigation errors are returned
// as-is (see IsFatal) unless Stop interrupted them, which yields nil; per-poll
// failures never end the loop. The browser session is released on every exit
// path.
func (d *Detector) RunLoop(ctx context.Context, account string, interval time.Duration, onNewPost Handler) error {
	if d.stopped() {
		return ErrStopped
	}
	d.monitoring.Store(true)
	defer d.Stop()

	// A Stop during startup closes the session under the pending wait; the
	// resulting error is the stop, not a login or navigation failure.
	if err := d.EstablishSession(ctx); err != nil {
		if d.stopped() {
			d.log.Info("detector: stopped during session setup", "error", err)
			return nil
		}
		d.log.Error("detector: session failed", "error", err)
		return err
	}
	state, err := d.NavigateToTarget(ctx, account)
	if err != nil {
		if d.stopped() {
			d.log.Info("detector: stopped during navigation", "account", account, "error", err)
			return nil
		}
		d.log.Error("detector: navigation failed", "account", account, "error", err)
		return err
	}

	name := d.Account()
	d.log.Info("detector: monitoring", "account", name, "interval", interval, "feed", state)

	for d.running(ctx) {
		d.iterate(ctx, name, onNewPost)
		d.log.Debug("detector: sleeping", "interval", interval)
		if !d.sleep(ctx, interval) {
			break
		}
	}

	d.log.Info("detector: loop exited", "account", name)
	if ctx.Err() != nil && !d.stopped() {
		return ctx.Err()
	}
	return nil
}

func (d *Detector) iterate(ctx context.Context, account string, onNewPost Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.transientFailure(fmt.Errorf("detector: panic in poll iteration: %v", r))
		}
	}()

	post, err := d.CheckForNew(ctx)
	if err != nil {
		if errors.Is(err, ErrStopped) || d.stopped() {
			return
		}
		d.transientFailure(err)
		return
	}
	if post != nil && onNewPost != nil {
		onNewPost(account, *post)
	}
}

// Stop ends monitoring and releases the browser session. Idempotent.
func (d *Detector) Stop() {
	d.monitoring.Store(false)
	d.stopOnce.Do(func() {
		close(d.stopCh)
		if err := d.sess.Quit(); err != nil {
			d.log.Warn("detector: release browser", "error", err)
		}
		d.log.Info("detector: stopped")
	})
}

// Monitoring reports the detector's own view of whether it is running.
func (d *Detector) Monitoring() bool { return d.monitoring.Load() }

// LastPollActivity is the time of the last successful extraction, zero if none.
func (d *Detector) LastPollActivity() time.Time {
	ns := d.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Account is the normalised target account, empty before navigation.
func (d *Detector) Account() string {
	s, _ := d.account.Load().(string)
	return s
}

// Baseline returns a copy of the current baseline, nil before the first poll.
func (d *Detector) Baseline() *Post {
	p := d.baseline.Load()
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Stats returns the current counters.
func (d *Detector) Stats() Stats {
	return Stats{
		Polls:             d.polls.Load(),
		NewPosts:          d.newPosts.Load(),
		TransientFailures: d.transient.Load(),
		Panics:            d.panics.Load(),
	}
}

func (d *Detector) transientFailure(err error) {
	d.transient.Add(1)
	d.log.Warn("detector: transient poll failure", "error", err)
	if d.cfg.OnTransient != nil {
		d.cfg.OnTransient(err)
	}
}

func (d *Detector) stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

func (d *Detector) running(ctx context.Context) bool {
	return d.monitoring.Load() && !d.stopped() && ctx.Err() == nil
}

func (d *Detector) sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-d.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// cookieDomain scopes the credential to the site the browser landed on.
// x.com and twitter.com serve the same client and redirect to each other.
func cookieDomain(landed, site string) string {
	host := hostOf(landed)
	if host == "" {
		host = hostOf(site)
	}
	host = strings.TrimPrefix(host, "www.")
	switch {
	case host == "x.com" || strings.HasSuffix(host, ".x.com"):
		return ".x.com"
	case host == "twitter.com" || strings.HasSuffix(host, ".twitter.com"):
		return ".twitter.com"
	case host == "":
		return ""
	default:
		return "." + host
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
