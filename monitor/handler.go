package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedwatch/detector"
	"github.com/hazyhaar/feedwatch/notify"
	"github.com/hazyhaar/feedwatch/observability"
)

// sendTimeout bounds one new-post delivery so a hung mail server cannot
// stall the poll loop.
const sendTimeout = time.Minute

// NotifyHandler is the default new-post handler: it journals the post and
// mails it to recipient. Delivery failures are logged and journalled; they
// never reach the detector. notifier and journal may be nil.
func NotifyHandler(notifier notify.Notifier, recipient string, journal *observability.Journal, logger *slog.Logger) detector.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(account string, post detector.Post) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if journal != nil {
			journal.LogEvent(ctx, observability.Event{
				Account: account,
				Kind:    observability.EventNewPost,
				PostID:  post.ID,
				Text:    post.Text,
				URL:     post.URL,
			})
		}

		if notifier == nil {
			logger.Warn("monitor: new post not mailed, no notifier configured", "account", account, "id", post.ID)
			return
		}

		msg := notify.NewPostMessage(account, notify.PostView{
			ID:         post.ID,
			Text:       post.Text,
			HTML:       post.HTML,
			URL:        post.URL,
			ObservedAt: post.ObservedAt,
		}, recipient)
		if err := notifier.Send(ctx, msg); err != nil {
			logger.Error("monitor: new post notification failed", "account", account, "id", post.ID, "error", err)
			if journal != nil {
				journal.LogEvent(ctx, observability.Event{
					Account: account,
					Kind:    observability.EventNotify,
					PostID:  post.ID,
					Detail:  err.Error(),
				})
			}
			return
		}
		logger.Info("monitor: new post notified", "account", account, "id", post.ID, "to", recipient)
	}
}

// Chain calls every non-nil handler in order.
func Chain(handlers ...detector.Handler) detector.Handler {
	return func(account string, post detector.Post) {
		for _, h := range handlers {
			if h != nil {
				h(account, post)
			}
		}
	}
}
