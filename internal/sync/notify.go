package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// NotificationListener connects to a push-notification endpoint (a
// websocket gateway sitting in front of the Graph change-notification
// webhook) and emits a signal on Hints whenever the server reports a
// change, so a polling Runner can skip ahead instead of waiting out its
// full interval. It is a hint channel only — missing or duplicate
// notifications are harmless, since every sync pass is self-correcting.
type NotificationListener struct {
	url    string
	logger *slog.Logger
	Hints  chan struct{}
}

// NewNotificationListener returns a listener for the given websocket URL.
// Hints is buffered so a burst of notifications never blocks the
// connection's read loop.
func NewNotificationListener(url string, logger *slog.Logger) *NotificationListener {
	return &NotificationListener{
		url:    url,
		logger: logger,
		Hints:  make(chan struct{}, 1),
	}
}

// Run connects and reads notifications until ctx is done, reconnecting
// with a fixed backoff on any error. It never returns a non-nil error —
// the caller treats hints as best-effort and keeps polling regardless.
func (n *NotificationListener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := n.connectAndRead(ctx); err != nil {
			n.logger.Debug("notification listener disconnected", slog.Any("error", err))
		}

		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (n *NotificationListener) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, n.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		select {
		case n.Hints <- struct{}{}:
		default:
		}
	}
}
