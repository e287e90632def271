package triage

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestWorkflowContext_AdvanceInOrder(t *testing.T) {
	t.Parallel()

	wc := newWorkflowContext("tk-1", "tr-1", time.Time{})
	for _, s := range []State{StateClassifying, StateRetrieving, StateDrafting, StateDeciding, StateCompleted} {
		if err := wc.advance(s); err != nil {
			t.Fatalf("advance(%s): %v", s, err)
		}
	}
	if !wc.Succeeded() {
		t.Error("expected Succeeded after COMPLETED")
	}
}

func TestWorkflowContext_RejectsSkipsAndBacksteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from State
		to   State
	}{
		{"skip classifying", StatePlanning, StateRetrieving},
		{"backwards", StateDrafting, StateClassifying},
		{"out of terminal", StateCompleted, StatePlanning},
		{"to failed via advance", StatePlanning, StateFailed},
		{"self", StateDeciding, StateDeciding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wc := &WorkflowContext{State: tt.from}
			if err := wc.advance(tt.to); err == nil {
				t.Errorf("advance %s -> %s succeeded", tt.from, tt.to)
			}
			if wc.State != tt.from {
				t.Errorf("state changed to %s", wc.State)
			}
		})
	}
}

func TestWorkflowContext_Fail(t *testing.T) {
	t.Parallel()

	wc := &WorkflowContext{State: StateRetrieving}
	wc.fail(errors.New("kb down"))
	if wc.State != StateFailed || wc.Error != "kb down" {
		t.Errorf("wc = %+v", wc)
	}

	done := &WorkflowContext{State: StateCompleted}
	done.fail(errors.New("late"))
	if done.State != StateCompleted || done.Error != "" {
		t.Errorf("terminal context changed: %+v", done)
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{3.5, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCapCitations(t *testing.T) {
	t.Parallel()

	got := CapCitations([]string{"", "kb-1", "kb-1", "kb-2", "kb-3", "kb-4"})
	if len(got) != 3 || got[0] != "kb-1" || got[2] != "kb-3" {
		t.Errorf("CapCitations = %v, want [kb-1 kb-2 kb-3]", got)
	}
	if got := CapCitations(nil); len(got) != 0 {
		t.Errorf("CapCitations(nil) = %v, want empty", got)
	}
}

func TestSuggestion_CloneIsDeep(t *testing.T) {
	t.Parallel()

	s := &Suggestion{ArticleIDs: []string{"a"}, Citations: []string{"a"}}
	cp := s.Clone()
	cp.ArticleIDs[0] = "b"
	cp.Citations[0] = "b"
	if s.ArticleIDs[0] != "a" || s.Citations[0] != "a" {
		t.Error("Clone shares slices with the original")
	}
}
