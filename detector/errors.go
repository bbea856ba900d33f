package detector

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by session/navigation calls made after Stop.
var ErrStopped = errors.New("detector: stopped")

// AuthError means the credential was not accepted: the logged-in marker never
// appeared, or the session could not be set up at all. Fatal to the run.
type AuthError struct {
	Reason string
	Cause  error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("detector: authentication failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("detector: authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// NotFoundError means the target account does not exist. Fatal to the run.
type NotFoundError struct {
	Account string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("detector: account not found: @%s", e.Account)
}

// PrivateError means the target account is protected. Fatal to the run.
type PrivateError struct {
	Account string
}

func (e *PrivateError) Error() string {
	return fmt.Sprintf("detector: account is private: @%s", e.Account)
}

// NavigationError means the feed page could not be loaded or read. Fatal to
// the run.
type NavigationError struct {
	Account string
	Op      string
	Cause   error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("detector: %s @%s: %v", e.Op, e.Account, e.Cause)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// IsFatal reports whether err ends a monitoring run rather than a single poll.
func IsFatal(err error) bool {
	var (
		auth    *AuthError
		missing *NotFoundError
		private *PrivateError
		nav     *NavigationError
	)
	return errors.As(err, &auth) || errors.As(err, &missing) || errors.As(err, &private) ||
		errors.As(err, &nav)
}

// FeedState is the non-fatal outcome of NavigateToTarget.
type FeedState int

const (
	FeedReady FeedState = iota // at least one post rendered
	FeedEmpty                  // page loaded, no posts yet
)

func (s FeedState) String() string {
	if s == FeedEmpty {
		return "empty"
	}
	return "ready"
}
