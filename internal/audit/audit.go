// Package audit records the append-only trail of triage workflow transitions.
//
// The Recorder is the single place audit write failures are swallowed: callers
// treat it as a pure write sink and never read back what they logged.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Actor identifies who caused an audited action.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorAgent  Actor = "agent"
	ActorUser   Actor = "user"
)

// Action codes written by the triage workflow.
const (
	ActionTriagePlanned   = "TRIAGE_PLANNED"
	ActionAgentClassified = "AGENT_CLASSIFIED"
	ActionKBRetrieved     = "KB_RETRIEVED"
	ActionDraftGenerated  = "DRAFT_GENERATED"
	ActionAutoClosed      = "AUTO_CLOSED"
	ActionAssignedToHuman = "ASSIGNED_TO_HUMAN"
	ActionTriageFailed    = "TRIAGE_FAILED"
)

// Entry is one immutable audit record.
type Entry struct {
	TicketID  string         `json:"ticket_id"`
	TraceID   string         `json:"trace_id"`
	Actor     Actor          `json:"actor"`
	Action    string         `json:"action"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink persists entries. Implementations must only ever append.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// Reader lists entries for inspection (API, tests). The workflow never uses it.
type Reader interface {
	ListByTrace(ctx context.Context, traceID string) ([]Entry, error)
	ListByTicket(ctx context.Context, ticketID string) ([]Entry, error)
}

// Recorder stamps entries with a non-decreasing timestamp and writes them to
// a Sink, logging rather than returning any failure.
type Recorder struct {
	sink   Sink
	logger log.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewRecorder creates a Recorder writing to sink. A nil sink discards entries.
func NewRecorder(sink Sink, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.Nop()
	}
	return &Recorder{
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Log appends one entry. It never fails from the caller's point of view.
func (r *Recorder) Log(ctx context.Context, ticketID, traceID string, actor Actor, action string, meta map[string]any) {
	if r.sink == nil {
		return
	}
	e := &Entry{
		TicketID:  ticketID,
		TraceID:   traceID,
		Actor:     actor,
		Action:    action,
		Meta:      meta,
		CreatedAt: r.stamp(),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn(ctx, "audit sink panicked", "action", action, "ticket_id", ticketID, "trace_id", traceID, "panic", p)
		}
	}()

	if err := r.sink.Append(ctx, e); err != nil {
		r.logger.Error(ctx, err, "audit write failed",
			"action", action,
			"ticket_id", ticketID,
			"trace_id", traceID,
		)
	}
}

// stamp returns the current time, clamped so it never goes backwards across calls.
func (r *Recorder) stamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}
