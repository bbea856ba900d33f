package notify

import (
	"errors"
	"fmt"
)

// ErrIncompleteConfig is returned when a backend lacks the settings it needs
// to deliver anything (host, credentials, sender, recipient or URL).
var ErrIncompleteConfig = errors.New("notify: incomplete configuration")

// SendError is returned when a configured backend failed to deliver.
type SendError struct {
	Backend   string
	Recipient string
	Cause     error
}

func (e *SendError) Error() string {
	if e.Recipient == "" {
		return fmt.Sprintf("notify: %s send failed: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("notify: %s send to %s failed: %v", e.Backend, e.Recipient, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }
