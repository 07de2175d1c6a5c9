// Package notify forwards committed auction events to external
// collaborators (webhooks, chat channels and a JetStream feed). Events can
// be filtered by type so each deployment forwards only what its
// collaborators consume.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// Sender is one collaborator channel.
type Sender interface {
	Send(ctx context.Context, ev domain.Event) error
	// Name returns a short identifier for logs (e.g. "webhook").
	Name() string
}

// Notifier fans an event out to every Sender whose event type passes the
// configured filter. It satisfies the emitter's sink contract.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. When events is empty every type passes.
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

// Name returns the sink identifier.
func (n *Notifier) Name() string {
	return "notifier"
}

// Allows reports whether events of typ are forwarded.
func (n *Notifier) Allows(typ domain.EventType) bool {
	return len(n.events) == 0 || n.events[typ]
}

// Send delivers ev to every sender. A failing sender does not prevent
// delivery to the rest; the failures are combined into one error.
func (n *Notifier) Send(ctx context.Context, ev domain.Event) error {
	if !n.Allows(ev.Type) {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("type", string(ev.Type)))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: event sent",
			slog.String("sender", s.Name()),
			slog.String("type", string(ev.Type)),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
