// Package notify delivers operator alerts for lifecycle events to chat
// channels (Telegram, Discord). Events can be filtered by type so operators
// receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. Only event types in the allowed set
// are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders, filtered to events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// HandleEvent formats e and sends it if its type passes the filter. It has
// the event bus handler signature.
func (n *Notifier) HandleEvent(ctx context.Context, e domain.Event) error {
	if len(n.events) > 0 && !n.events[e.Type] {
		return nil
	}
	title, message := Format(e)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// Format renders an event as a title and body.
func Format(e domain.Event) (string, string) {
	var b strings.Builder
	switch e.Type {
	case domain.EventPositionAdmitted:
		fmt.Fprintf(&b, "%s admitted (id %s)", e.Symbol, e.PositionID)
		return "Position opened", b.String()
	case domain.EventPositionExited:
		fmt.Fprintf(&b, "%s closed on %s", e.Symbol, e.Reason)
		if e.RealizedPnL != nil {
			fmt.Fprintf(&b, "\nPnL: %s", e.RealizedPnL.StringFixed(4))
		}
		if e.TxHash != "" {
			fmt.Fprintf(&b, "\nTx: %s", e.TxHash)
		}
		return "Position closed", b.String()
	case domain.EventPositionFailed:
		fmt.Fprintf(&b, "%s (id %s) failed: %s", e.Symbol, e.PositionID, e.Reason)
		return "Position failed", b.String()
	case domain.EventEndpointCooldownEntered:
		fmt.Fprintf(&b, "%s cooling down (%s)", e.Endpoint, e.Reason)
		return "Endpoint cooldown", b.String()
	case domain.EventEndpointRecovered:
		fmt.Fprintf(&b, "%s back in rotation", e.Endpoint)
		return "Endpoint recovered", b.String()
	default:
		return string(e.Type), e.Reason
	}
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
