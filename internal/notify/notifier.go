// Package notify forwards committed marketplace events to operator channels.
// Notifications are dispatched to all registered senders (Telegram, Discord,
// etc.) and can be filtered by event type so operators receive only the
// alerts they care about, e.g. sale_completed but not every offer_made.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender delivers one notification to a single destination channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs and combined errors ("telegram").
	Name() string
}

// Notifier fans notifications out to its senders, filtered by event type.
// An empty filter admits every event.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to all senders if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.fanout(ctx, title, message)
}

// NotifyAll delivers to all senders, bypassing the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.fanout(ctx, title, message)
}

// fanout tries every sender even when earlier ones fail and joins the
// failures into one error.
func (n *Notifier) fanout(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
