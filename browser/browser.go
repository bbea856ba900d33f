// Package browser is the browser capability consumed by the detector: open a
// page, inject a cookie, reload, wait for an element, read the page, quit.
//
// Session is deliberately narrow so the detector and monitor can be driven by
// Fake in tests. Rod is the production implementation.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by FindFirst/FindAll when no element matched
	// before the wait bound expired.
	ErrTimeout = errors.New("browser: wait timeout")

	// ErrClosed is returned by any call made after Quit.
	ErrClosed = errors.New("browser: session closed")
)

// Cookie is a browser cookie. Domain may be empty, in which case the browser
// scopes it to the current page.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Element is a snapshot of a matched DOM element. It is materialised at match
// time; reading it never goes back to the browser.
type Element struct {
	Selector string
	HTML     string // outer HTML
}

// Session is one browser tab owned by a single caller.
type Session interface {
	// Open navigates to url and waits for the load event.
	Open(ctx context.Context, url string) error
	// CurrentURL is the URL the tab actually landed on (after redirects).
	CurrentURL(ctx context.Context) (string, error)
	AddCookie(ctx context.Context, c Cookie) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Refresh(ctx context.Context) error
	// FindFirst waits up to timeout for selector. ErrTimeout if it never appears.
	FindFirst(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// FindAll waits up to timeout for at least one match and returns all of
	// them in document order.
	FindAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error)
	// PageText returns the rendered text of the document body.
	PageText(ctx context.Context) (string, error)
	// Quit releases the tab and the browser. Safe to call more than once.
	Quit() error
}
