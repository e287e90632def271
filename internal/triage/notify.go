package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/deskmate/internal/ticket"
)

// Notification event names.
const (
	EventTicketStatus   = "ticket_status"
	EventTicketAssigned = "ticket_assigned"
)

// Notification is the payload delivered to a user after a decision.
type Notification struct {
	TicketID   string          `json:"ticket_id"`
	TraceID    string          `json:"trace_id"`
	Title      string          `json:"title"`
	Status     ticket.Status   `json:"status"`
	Category   ticket.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Notifier delivers an event to one user. Delivery is at-most-once; the engine
// logs and otherwise ignores errors.
type Notifier interface {
	BroadcastToUser(ctx context.Context, userID, event string, n *Notification) error
}

// Notifiers fans an event out to every contained Notifier.
type Notifiers []Notifier

// BroadcastToUser calls every notifier and joins their errors.
func (ns Notifiers) BroadcastToUser(ctx context.Context, userID, event string, n *Notification) error {
	var errs []error
	for _, nt := range ns {
		if err := nt.BroadcastToUser(ctx, userID, event, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastToUser(context.Context, string, string, *Notification) error { return nil }
