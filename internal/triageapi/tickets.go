package triageapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/deskmate/internal/authmw"
	"github.com/linnemanlabs/deskmate/internal/ticket"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 20000
	maxAttachments    = 10
)

type createTicketRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CreatorID   string   `json:"creator_id"`
	AssigneeID  string   `json:"assignee_id"`
	Attachments []string `json:"attachments"`
}

func (req *createTicketRequest) validate() string {
	switch {
	case req.Title == "":
		return "title is required"
	case len(req.Title) > maxTitleLen:
		return "title too long"
	case len(req.Description) > maxDescriptionLen:
		return "description too long"
	case req.CreatorID == "":
		return "creator_id is required"
	case len(req.Attachments) > maxAttachments:
		return "too many attachments"
	}
	return ""
}

// handleCreateTicket stores a new open ticket and starts triage in the
// background. The response never waits on the triage run.
func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if user, ok := authmw.UserID(r.Context()); ok {
		req.CreatorID = user
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	t := &ticket.Ticket{
		Title:       req.Title,
		Description: req.Description,
		Status:      ticket.StatusOpen,
		Category:    ticket.CategoryOther,
		CreatorID:   req.CreatorID,
		AssigneeID:  req.AssigneeID,
		Attachments: req.Attachments,
	}
	if err := a.tickets.Create(r.Context(), t); err != nil {
		a.logger.Error(r.Context(), err, "failed to create ticket")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("deskmate.ticket.id", t.ID))

	a.svc.Dispatch(r.Context(), t.ID)

	w.Header().Set("Location", "/api/v1/tickets/"+t.ID)
	writeJSON(w, http.StatusAccepted, t)
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, ok := a.loadTicket(w, r)
	if !ok {
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("deskmate.ticket.status", string(t.Status)))
	writeJSON(w, http.StatusOK, t)
}

// loadTicket fetches the {id} ticket, writing the error response itself when
// it reports false.
func (a *API) loadTicket(w http.ResponseWriter, r *http.Request) (*ticket.Ticket, bool) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("deskmate.ticket.id", id))

	t, ok, err := a.tickets.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get ticket", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, false
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return nil, false
	}
	return t, true
}
