// Package triageapi exposes tickets and their triage results over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/ticket"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Triage(ctx context.Context, ticketID string) *triage.WorkflowContext
	Dispatch(ctx context.Context, ticketID string)
	Suggestion(ctx context.Context, ticketID string) (*triage.Suggestion, bool, error)
	AuditTrail(ctx context.Context, ticketID string) ([]audit.Entry, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	tickets ticket.Store
	svc     TriageService
}

// New creates a new API handler.
func New(logger log.Logger, tickets ticket.Store, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if tickets == nil {
		panic(xerrors.New("ticket store is required"))
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger:  logger,
		tickets: tickets,
		svc:     svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/tickets", func(r chi.Router) {
		r.Post("/", a.handleCreateTicket)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetTicket)
			r.Post("/triage", a.handleTriage)
			r.Get("/suggestion", a.handleGetSuggestion)
			r.Get("/audit", a.handleGetAudit)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
