package triage

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/policy"
	"github.com/linnemanlabs/deskmate/internal/ticket"
)

// decide persists the suggestion and then applies the auto-close rule. This
// is the only place the system resolves a ticket on its own.
func (e *Engine) decide(ctx context.Context, L log.Logger, wc *WorkflowContext, t *ticket.Ticket) error {
	info := e.provider.Info()
	info.LatencyMS = wc.ModelLatencyMS
	info.StubMode = e.provider.IsStubMode()

	sugg := &Suggestion{
		TicketID:   wc.TicketID,
		TraceID:    wc.TraceID,
		Category:   wc.Category,
		ArticleIDs: wc.ArticleIDs,
		Citations:  wc.Citations,
		Draft:      wc.Draft,
		Confidence: wc.Confidence,
		AutoClosed: false,
		Model:      info,
		UpdatedAt:  e.now().UTC(),
	}
	if _, err := e.suggestions.Upsert(ctx, sugg); err != nil {
		return fmt.Errorf("persist suggestion: %w", err)
	}

	pol, err := e.policy.Current(ctx)
	if err != nil {
		// unreadable policy never auto-closes
		L.Warn(ctx, "policy unavailable, escalating", "error", err)
		pol = policy.Policy{}
	}

	if pol.ShouldAutoClose(wc.Confidence) {
		return e.autoClose(ctx, L, wc, t, sugg, pol)
	}
	return e.escalate(ctx, L, wc, t, pol)
}

func (e *Engine) autoClose(ctx context.Context, L log.Logger, wc *WorkflowContext, t *ticket.Ticket, sugg *Suggestion, pol policy.Policy) error {
	wc.Decision = DecisionAutoClose

	// mark before resolving so a failed write leaves the ticket untouched
	if err := e.markAutoClosed(ctx, sugg, true); err != nil {
		return fmt.Errorf("mark suggestion auto-closed: %w", err)
	}

	applied, err := e.tickets.Resolve(ctx, t.ID, ticket.Reply{
		Content:    wc.Draft,
		AuthorID:   ticket.SystemAuthorID,
		AuthorType: ticket.AuthorSystem,
	})
	if err != nil {
		if rerr := e.markAutoClosed(ctx, sugg, false); rerr != nil {
			L.Error(ctx, rerr, "roll back auto-closed suggestion")
		}
		return fmt.Errorf("resolve ticket: %w", err)
	}

	if applied {
		wc.AutoClosed = true
	} else {
		L.Info(ctx, "ticket already terminal, auto-close skipped", "status", t.Status)
		if err := e.markAutoClosed(ctx, sugg, false); err != nil {
			e.recordAutoClosed(ctx, wc, pol, false)
			return fmt.Errorf("roll back auto-closed suggestion: %w", err)
		}
	}

	e.recordAutoClosed(ctx, wc, pol, applied)

	if applied {
		e.notify(ctx, L, t.CreatorID, EventTicketStatus, &Notification{
			TicketID:   t.ID,
			TraceID:    wc.TraceID,
			Title:      t.Title,
			Status:     ticket.StatusResolved,
			Category:   wc.Category,
			Confidence: wc.Confidence,
			Message:    "Your ticket was resolved automatically.",
		})
	}
	return nil
}

func (e *Engine) markAutoClosed(ctx context.Context, sugg *Suggestion, v bool) error {
	sugg.AutoClosed = v
	sugg.UpdatedAt = e.now().UTC()
	_, err := e.suggestions.Upsert(ctx, sugg)
	return err
}

func (e *Engine) recordAutoClosed(ctx context.Context, wc *WorkflowContext, pol policy.Policy, applied bool) {
	e.record(ctx, wc, audit.ActorSystem, audit.ActionAutoClosed, map[string]any{
		"confidence": wc.Confidence,
		"threshold":  pol.ConfidenceThreshold,
		"applied":    applied,
	})
}

func (e *Engine) escalate(ctx context.Context, L log.Logger, wc *WorkflowContext, t *ticket.Ticket, pol policy.Policy) error {
	wc.Decision = DecisionEscalate

	// guarded: a human may already have moved the ticket past open
	moved, err := e.tickets.Advance(ctx, t.ID, ticket.StatusOpen, ticket.StatusWaitingHuman)
	if err != nil {
		return fmt.Errorf("escalate ticket: %w", err)
	}

	e.record(ctx, wc, audit.ActorSystem, audit.ActionAssignedToHuman, map[string]any{
		"confidence":     wc.Confidence,
		"threshold":      pol.ConfidenceThreshold,
		"status_changed": moved,
	})

	if t.AssigneeID == "" {
		return nil
	}
	status := t.Status
	if moved {
		status = ticket.StatusWaitingHuman
	}
	e.notify(ctx, L, t.AssigneeID, EventTicketAssigned, &Notification{
		TicketID:   t.ID,
		TraceID:    wc.TraceID,
		Title:      t.Title,
		Status:     status,
		Category:   wc.Category,
		Confidence: wc.Confidence,
		Message:    "A ticket needs your review.",
	})
	return nil
}

func (e *Engine) notify(ctx context.Context, L log.Logger, userID, event string, n *Notification) {
	if userID == "" {
		return
	}
	n.CreatedAt = e.now().UTC()
	if err := e.notifier.BroadcastToUser(ctx, userID, event, n); err != nil {
		L.Warn(ctx, "notification failed", "event", event, "user_id", userID, "error", err)
	}
}
