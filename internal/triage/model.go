package triage

import (
	"fmt"
	"math"
	"time"

	"github.com/linnemanlabs/deskmate/internal/ticket"
)

// State is the position of a triage run in its workflow.
type State string

const (
	StatePlanning    State = "PLANNING"
	StateClassifying State = "CLASSIFYING"
	StateRetrieving  State = "RETRIEVING"
	StateDrafting    State = "DRAFTING"
	StateDeciding    State = "DECIDING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

// next is the only forward edge out of each non-terminal state.
// FAILED is reachable from any of them and is handled separately.
var next = map[State]State{
	StatePlanning:    StateClassifying,
	StateClassifying: StateRetrieving,
	StateRetrieving:  StateDrafting,
	StateDrafting:    StateDeciding,
	StateDeciding:    StateCompleted,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Decision is the branch taken by the decision rule.
type Decision string

const (
	DecisionNone      Decision = ""
	DecisionAutoClose Decision = "auto_close"
	DecisionEscalate  Decision = "escalate"
)

// WorkflowContext is the state of one triage run. It is owned by a single run
// and returned to the caller as its terminal snapshot.
type WorkflowContext struct {
	TicketID        string          `json:"ticket_id"`
	TraceID         string          `json:"trace_id"`
	State           State           `json:"state"`
	Category        ticket.Category `json:"category,omitempty"`
	Confidence      float64         `json:"confidence"`
	ArticleIDs      []string        `json:"article_ids,omitempty"`
	Citations       []string        `json:"citations,omitempty"`
	Draft           string          `json:"draft,omitempty"`
	DraftConfidence float64         `json:"draft_confidence,omitempty"`
	ModelLatencyMS  int64           `json:"model_latency_ms"`
	Decision        Decision        `json:"decision,omitempty"`
	AutoClosed      bool            `json:"auto_closed"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at,omitempty"`
}

func newWorkflowContext(ticketID, traceID string, start time.Time) *WorkflowContext {
	return &WorkflowContext{
		TicketID:  ticketID,
		TraceID:   traceID,
		State:     StatePlanning,
		StartedAt: start,
	}
}

// advance moves to `to`, which must be the direct successor of the current state.
func (wc *WorkflowContext) advance(to State) error {
	if want, ok := next[wc.State]; !ok || want != to {
		return fmt.Errorf("illegal workflow transition %s -> %s", wc.State, to)
	}
	wc.State = to
	return nil
}

// fail moves any non-terminal run to FAILED and notes the error.
func (wc *WorkflowContext) fail(err error) {
	if wc.State.Terminal() {
		return
	}
	wc.State = StateFailed
	if err != nil {
		wc.Error = err.Error()
	}
}

// Succeeded reports whether the run reached COMPLETED.
func (wc *WorkflowContext) Succeeded() bool {
	return wc.State == StateCompleted
}

// ModelInfo describes the provider that produced a suggestion.
type ModelInfo struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	PromptVersion string `json:"prompt_version"`
	LatencyMS     int64  `json:"latency_ms"`
	StubMode      bool   `json:"stub_mode"`
}

// Suggestion is the latest persisted triage outcome for a ticket. There is at
// most one per ticket; each run overwrites it.
type Suggestion struct {
	TicketID   string          `json:"ticket_id"`
	TraceID    string          `json:"trace_id"`
	Category   ticket.Category `json:"category"`
	ArticleIDs []string        `json:"article_ids"`
	Citations  []string        `json:"citations"`
	Draft      string          `json:"draft"`
	Confidence float64         `json:"confidence"`
	AutoClosed bool            `json:"auto_closed"`
	Model      ModelInfo       `json:"model"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *Suggestion) Clone() *Suggestion {
	cp := *s
	cp.ArticleIDs = append([]string(nil), s.ArticleIDs...)
	cp.Citations = append([]string(nil), s.Citations...)
	return &cp
}

// Clamp bounds a confidence to [0,1]. NaN becomes 0.
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// MaxCitations bounds the citation list of a draft.
const MaxCitations = 3

// CapCitations returns at most MaxCitations ids, dropping blanks and duplicates.
func CapCitations(ids []string) []string {
	out := make([]string, 0, MaxCitations)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == MaxCitations {
			break
		}
	}
	return out
}
