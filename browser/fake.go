package browser

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Fake is a scripted in-memory Session. Each selector maps to a queue of
// results; the last queued result repeats once the queue drains. It never
// sleeps: a scripted timeout returns ErrTimeout immediately.
type Fake struct {
	mu sync.Mutex

	// LandingURL is what CurrentURL reports after Open. Empty means the
	// opened URL itself.
	LandingURL string
	// Text is returned by PageText.
	Text string
	// RejectDomainCookie makes AddCookie fail when a domain is set.
	RejectDomainCookie bool
	// OpenErr/RefreshErr fail the corresponding call when set.
	OpenErr    error
	RefreshErr error

	current  string
	cookies  []Cookie
	results  map[string][]fakeResult
	opened   []string
	refresh  int
	quits    int
	closed   bool
	onRefresh func(n int)
}

type fakeResult struct {
	html []string
	err  error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{results: make(map[string][]fakeResult)}
}

// Queue appends a successful match for selector with the given outer HTML
// fragments, in document order.
func (f *Fake) Queue(selector string, html ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[selector] = append(f.results[selector], fakeResult{html: html})
	return f
}

// QueueTimeout appends a wait timeout for selector.
func (f *Fake) QueueTimeout(selector string) *Fake {
	return f.QueueErr(selector, ErrTimeout)
}

// QueueErr appends an arbitrary error for selector.
func (f *Fake) QueueErr(selector string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[selector] = append(f.results[selector], fakeResult{err: err})
	return f
}

// OnRefresh registers a hook called with the refresh count after each Refresh.
func (f *Fake) OnRefresh(fn func(n int)) {
	f.mu.Lock()
	f.onRefresh = fn
	f.mu.Unlock()
}

// Quits reports how many times Quit released the session.
func (f *Fake) Quits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quits
}

// Opened lists every URL passed to Open.
func (f *Fake) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Refreshes reports the number of Refresh calls.
func (f *Fake) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh
}

func (f *Fake) Open(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.opened = append(f.opened, url)
	f.current = url
	if f.LandingURL != "" && len(f.opened) == 1 {
		f.current = f.LandingURL
	}
	return nil
}

func (f *Fake) CurrentURL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}
	return f.current, nil
}

func (f *Fake) AddCookie(_ context.Context, c Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.RejectDomainCookie && c.Domain != "" {
		return errFakeCookieDomain
	}
	f.cookies = append(f.cookies, c)
	return nil
}

func (f *Fake) Cookies(_ context.Context) ([]Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return append([]Cookie(nil), f.cookies...), nil
}

func (f *Fake) Refresh(_ context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.RefreshErr != nil {
		f.mu.Unlock()
		return f.RefreshErr
	}
	f.refresh++
	n, hook := f.refresh, f.onRefresh
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (f *Fake) FindFirst(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	els, err := f.FindAll(ctx, selector, timeout)
	if err != nil {
		return Element{}, err
	}
	return els[0], nil
}

func (f *Fake) FindAll(_ context.Context, selector string, _ time.Duration) ([]Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	q := f.results[selector]
	if len(q) == 0 {
		return nil, ErrTimeout
	}
	res := q[0]
	if len(q) > 1 {
		f.results[selector] = q[1:]
	}
	if res.err != nil {
		return nil, res.err
	}
	if len(res.html) == 0 {
		return nil, ErrTimeout
	}
	out := make([]Element, len(res.html))
	for i, h := range res.html {
		out[i] = Element{Selector: selector, HTML: h}
	}
	return out, nil
}

func (f *Fake) PageText(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}
	return f.Text, nil
}

func (f *Fake) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.quits++
	return nil
}

// CookieNamed returns the last cookie added under name.
func (f *Fake) CookieNamed(name string) (Cookie, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.cookies) - 1; i >= 0; i-- {
		if strings.EqualFold(f.cookies[i].Name, name) {
			return f.cookies[i], true
		}
	}
	return Cookie{}, false
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFakeCookieDomain = fakeError("browser: fake rejects domain-scoped cookie")
