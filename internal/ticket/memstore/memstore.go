// Package memstore provides an in-memory implementation of ticket.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/deskmate/internal/ticket"
)

// Store holds tickets in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]*ticket.Ticket
	now     func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		tickets: make(map[string]*ticket.Ticket),
		now:     time.Now,
	}
}

// Create stores a copy of the ticket, filling ID, status and timestamps when unset.
func (s *Store) Create(_ context.Context, t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if _, exists := s.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = ticket.StatusOpen
	}
	if t.Category == "" {
		t.Category = ticket.CategoryOther
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	s.tickets[t.ID] = t.Clone()
	return nil
}

// Get retrieves a ticket by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*ticket.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

// AppendReply adds a reply to the ticket.
func (s *Store) AppendReply(_ context.Context, id string, reply ticket.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ticket.ErrNotFound
	}
	s.appendLocked(t, reply)
	return nil
}

// Assign sets the ticket's assignee.
func (s *Store) Assign(_ context.Context, id, assigneeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ticket.ErrNotFound
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = s.now()
	return nil
}

// Advance applies from -> to only if the ticket is still in from.
func (s *Store) Advance(_ context.Context, id string, from, to ticket.Status) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", ticket.ErrInvalidTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return false, ticket.ErrNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = s.now()
	return true, nil
}

// Resolve moves a non-terminal ticket to resolved and appends reply under one lock.
func (s *Store) Resolve(_ context.Context, id string, reply ticket.Reply) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return false, ticket.ErrNotFound
	}
	if !t.Status.CanTransition(ticket.StatusResolved) {
		return false, nil
	}
	t.Status = ticket.StatusResolved
	s.appendLocked(t, reply)
	return true, nil
}

func (s *Store) appendLocked(t *ticket.Ticket, reply ticket.Reply) {
	now := s.now()
	if reply.ID == "" {
		reply.ID = ulid.Make().String()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = now
	}
	t.Replies = append(t.Replies, reply)
	t.UpdatedAt = now
}
