package triageapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/deskmate/internal/audit"
)

// handleTriage re-runs triage synchronously and returns the terminal context.
func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	t, ok := a.loadTicket(w, r)
	if !ok {
		return
	}

	wc := a.svc.Triage(r.Context(), t.ID)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("deskmate.trace.id", wc.TraceID),
		attribute.String("deskmate.triage.state", string(wc.State)),
	)

	status := http.StatusOK
	if !wc.Succeeded() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, wc)
}

func (a *API) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	t, ok := a.loadTicket(w, r)
	if !ok {
		return
	}

	s, found, err := a.svc.Suggestion(r.Context(), t.ID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get suggestion", "id", t.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	t, ok := a.loadTicket(w, r)
	if !ok {
		return
	}

	entries, err := a.svc.AuditTrail(r.Context(), t.ID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list audit trail", "id", t.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id": t.ID,
		"entries":   entries,
	})
}
