// CLAUDE:SUMMARY Rod-backed browser Session: launch or connect Chrome, single stealth-capable tab, bounded waits, idempotent Quit.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures a Rod session.
type Config struct {
	// Headless runs Chrome without a window.
	Headless bool

	// ExecutablePath is the Chrome/Chromium binary. Empty lets the launcher
	// find or download one.
	ExecutablePath string

	// RemoteURL is the DevTools WebSocket URL of an already running Chrome.
	// When set, nothing is launched and ExecutablePath/Headless are ignored.
	RemoteURL string

	// Stealth opens the tab through go-rod/stealth.
	Stealth bool

	// ResourceBlocking lists resource types to drop (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// WindowSize as "w,h". Default: "1920,1080".
	WindowSize string

	// NavigationTimeout bounds Open and Refresh. Default: 30s.
	NavigationTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.WindowSize == "" {
		c.WindowSize = "1920,1080"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Rod is a Session backed by a single Chrome tab.
type Rod struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page

	mu     sync.Mutex
	closed bool
}

// Launch starts Chrome (or connects to RemoteURL) and opens one tab.
func Launch(ctx context.Context, cfg Config) (*Rod, error) {
	cfg.defaults()
	log := cfg.Logger

	r := &Rod{cfg: cfg}

	var wsURL string
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Context(ctx).
			Headless(cfg.Headless).
			Set("window-size", cfg.WindowSize).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Set("disable-gpu")
		if cfg.ExecutablePath != "" {
			l = l.Bin(cfg.ExecutablePath)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	r.browser = b

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	r.page = page

	types, unknown := resolveBlocked(cfg.ResourceBlocking)
	if len(unknown) > 0 {
		log.Warn("browser: ignoring unknown resource types", "types", unknown)
	}
	if len(types) > 0 {
		if err := blockResources(page, types); err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
	}

	return r, nil
}

func (r *Rod) tab() (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.page == nil {
		return nil, ErrClosed
	}
	return r.page, nil
}

func (r *Rod) Open(ctx context.Context, url string) error {
	p, err := r.tab()
	if err != nil {
		return err
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		r.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

func (r *Rod) CurrentURL(ctx context.Context) (string, error) {
	p, err := r.tab()
	if err != nil {
		return "", err
	}
	info, err := p.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (r *Rod) AddCookie(ctx context.Context, c Cookie) error {
	p, err := r.tab()
	if err != nil {
		return err
	}
	param := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.Domain == "" {
		// CDP needs either a domain or a URL to scope the cookie.
		info, err := p.Context(ctx).Info()
		if err != nil {
			return fmt.Errorf("browser: page info: %w", err)
		}
		param.URL = info.URL
	}
	if err := p.Context(ctx).SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("browser: set cookie %s: %w", c.Name, err)
	}
	return nil
}

func (r *Rod) Cookies(ctx context.Context) ([]Cookie, error) {
	p, err := r.tab()
	if err != nil {
		return nil, err
	}
	raw, err := p.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: read cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (r *Rod) Refresh(ctx context.Context) error {
	p, err := r.tab()
	if err != nil {
		return err
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	if err := p.Context(navCtx).Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		r.cfg.Logger.Warn("browser: wait load after reload", "error", err)
	}
	return nil
}

func (r *Rod) FindFirst(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	p, err := r.tab()
	if err != nil {
		return Element{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.Context(waitCtx).Element(selector)
	if err != nil {
		return Element{}, waitError(selector, err)
	}
	html, err := el.HTML()
	if err != nil {
		return Element{}, waitError(selector, err)
	}
	return Element{Selector: selector, HTML: html}, nil
}

func (r *Rod) FindAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error) {
	p, err := r.tab()
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Element retries until the first match appears; Elements does not wait.
	if _, err := p.Context(waitCtx).Element(selector); err != nil {
		return nil, waitError(selector, err)
	}
	els, err := p.Context(waitCtx).Elements(selector)
	if err != nil {
		return nil, waitError(selector, err)
	}

	out := make([]Element, 0, len(els))
	for _, el := range els {
		html, err := el.HTML()
		if err != nil {
			return nil, waitError(selector, err)
		}
		out = append(out, Element{Selector: selector, HTML: html})
	}
	return out, nil
}

func (r *Rod) PageText(ctx context.Context) (string, error) {
	p, err := r.tab()
	if err != nil {
		return "", err
	}
	res, err := p.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("browser: page text: %w", err)
	}
	return res.Value.Str(), nil
}

// Quit closes the tab and the browser, then cleans up the launcher.
func (r *Rod) Quit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.cleanup()
}

func (r *Rod) cleanup() error {
	var errs []error
	if r.page != nil {
		if err := r.page.Close(); err != nil {
			errs = append(errs, err)
		}
		r.page = nil
	}
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	if len(errs) > 0 {
		r.cfg.Logger.Warn("browser: cleanup", "error", errors.Join(errs...))
	}
	r.cfg.Logger.Info("browser: released")
	return nil
}

func waitError(selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, selector)
	}
	return fmt.Errorf("browser: find %s: %w", selector, err)
}
