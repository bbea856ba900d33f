// CLAUDE:SUMMARY Notifier capability: Message, Notifier interface, Func adapter and Multi fan-out.
// Package notify delivers out-of-band messages: new-post mails and
// emergency alerts. Backends are SMTP (go-mail) and a JSON webhook.
//
// A Send that returns nil means delivered. Any error means the message was
// not delivered and nothing else happened; callers log it and move on.
package notify

import (
	"context"
	"errors"
)

// Message is a backend-neutral notification.
type Message struct {
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html,omitempty"`
	Link      string `json:"link,omitempty"`
}

// Notifier sends one message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Multi fans a message out to every backend in order. It succeeds when at
// least one backend succeeds. Nil entries are skipped.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	sent := false
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		sent = true
	}
	if sent {
		return nil
	}
	if len(errs) == 0 {
		return ErrIncompleteConfig
	}
	return errors.Join(errs...)
}
