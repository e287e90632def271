// Package memstore provides in-memory implementations of triage.SuggestionStore
// and the audit sink. Suitable for dev/testing.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

// Store holds suggestions and audit entries in memory.
type Store struct {
	mu          sync.RWMutex
	suggestions map[string]*triage.Suggestion // ticket ID -> latest suggestion
	entries     []audit.Entry                 // append-only, write order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		suggestions: make(map[string]*triage.Suggestion),
	}
}

// Upsert replaces the ticket's suggestion with a copy of s.
func (s *Store) Upsert(_ context.Context, sg *triage.Suggestion) (*triage.Suggestion, error) {
	cp := sg.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.suggestions[cp.TicketID] = cp
	s.mu.Unlock()
	return cp.Clone(), nil
}

// FindByTicket returns a copy of the ticket's suggestion.
func (s *Store) FindByTicket(_ context.Context, ticketID string) (*triage.Suggestion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg, ok := s.suggestions[ticketID]
	if !ok {
		return nil, false, nil
	}
	return sg.Clone(), true, nil
}

// Len returns the number of stored suggestions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.suggestions)
}

// Append adds a copy of e to the audit log.
func (s *Store) Append(_ context.Context, e *audit.Entry) error {
	cp := *e
	cp.Meta = maps.Clone(e.Meta)
	s.mu.Lock()
	s.entries = append(s.entries, cp)
	s.mu.Unlock()
	return nil
}

// ListByTrace returns the entries of one run in write order.
func (s *Store) ListByTrace(_ context.Context, traceID string) ([]audit.Entry, error) {
	return s.filter(func(e *audit.Entry) bool { return e.TraceID == traceID }), nil
}

// ListByTicket returns every entry for a ticket in write order.
func (s *Store) ListByTicket(_ context.Context, ticketID string) ([]audit.Entry, error) {
	return s.filter(func(e *audit.Entry) bool { return e.TicketID == ticketID }), nil
}

func (s *Store) filter(keep func(*audit.Entry) bool) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for i := range s.entries {
		if keep(&s.entries[i]) {
			e := s.entries[i]
			e.Meta = maps.Clone(e.Meta)
			out = append(out, e)
		}
	}
	return out
}
