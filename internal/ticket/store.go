package ticket

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by mutating Store calls for an unknown ticket ID.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidTransition is returned when a requested status change is not a forward move.
	ErrInvalidTransition = errors.New("invalid ticket status transition")
)

// Store is the persistence interface for tickets and their replies.
type Store interface {
	// Create inserts a new ticket.
	Create(ctx context.Context, t *Ticket) error

	// Get retrieves a ticket with its replies. Returns a copy.
	Get(ctx context.Context, id string) (*Ticket, bool, error)

	// AppendReply adds an immutable reply to the end of the ticket's reply list.
	AppendReply(ctx context.Context, id string, reply Reply) error

	// Assign sets the ticket's assignee.
	Assign(ctx context.Context, id, assigneeID string) error

	// Advance moves the ticket from status `from` to `to` only if it is still in `from`.
	// It reports whether the change was applied.
	Advance(ctx context.Context, id string, from, to Status) (bool, error)

	// Resolve marks a non-terminal ticket resolved and appends reply in one step.
	// It reports false, leaving the ticket untouched, when it is already resolved or closed.
	Resolve(ctx context.Context, id string, reply Reply) (bool, error)
}
