package triage

import (
	"context"
	"errors"

	"github.com/linnemanlabs/deskmate/internal/ticket"
)

// ErrTicketNotFound fails a run whose ticket id does not resolve.
var ErrTicketNotFound = errors.New("ticket not found")

// TicketStore is the subset of ticket.Store the engine reads and mutates.
type TicketStore interface {
	Get(ctx context.Context, id string) (*ticket.Ticket, bool, error)
	Advance(ctx context.Context, id string, from, to ticket.Status) (bool, error)
	Resolve(ctx context.Context, id string, reply ticket.Reply) (bool, error)
}

// SuggestionStore persists the latest Suggestion per ticket.
type SuggestionStore interface {
	// Upsert inserts or replaces the suggestion for s.TicketID and returns the stored value.
	Upsert(ctx context.Context, s *Suggestion) (*Suggestion, error)

	// FindByTicket returns a copy of the ticket's suggestion, if any.
	FindByTicket(ctx context.Context, ticketID string) (*Suggestion, bool, error)
}
