package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/ticket"
)

func TestStub_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		category ticket.Category
		conf     float64
	}{
		{"double charge refund", "Refund for double charge\nI was charged twice for order #1234", ticket.CategoryBilling, 0.9},
		{"two billing hits", "Question about my invoice payment", ticket.CategoryBilling, 0.8},
		{"one tech hit", "The app shows a blank screen", ticket.CategoryTech, 0.7},
		{"shipping", "My package is delayed and tracking is stuck", ticket.CategoryShipping, 0.9},
		{"no hits", "Hello there, just saying thanks", ticket.CategoryOther, 0.5},
		{"empty", "", ticket.CategoryOther, 0.5},
		{"tie goes to billing", "refund crash", ticket.CategoryBilling, 0.7},
		{"tie tech before shipping", "login parcel", ticket.CategoryTech, 0.7},
		{"case insensitive", "LOGIN ERROR after PASSWORD reset", ticket.CategoryTech, 0.9},
		{"repeated word counts once", "crash crash crash", ticket.CategoryTech, 0.7},
	}

	s := NewStub()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.Classify(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Category != tt.category || got.Confidence != tt.conf {
				t.Errorf("Classify(%q) = %s/%v, want %s/%v", tt.text, got.Category, got.Confidence, tt.category, tt.conf)
			}
		})
	}
}

func TestStub_ClassifyDeterministic(t *testing.T) {
	t.Parallel()

	s := NewStub()
	text := "Card was charged but the delivery never arrived"
	first, _ := s.Classify(context.Background(), text)
	for range 20 {
		got, _ := s.Classify(context.Background(), text)
		if *got != *first {
			t.Fatalf("Classify not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestStub_Draft(t *testing.T) {
	t.Parallel()

	articles := []kb.Article{
		{ID: "kb-1", Title: "Refund timelines"},
		{ID: "kb-2", Title: "Duplicate charges"},
		{ID: "kb-3", Title: "Payment methods"},
		{ID: "kb-4", Title: "Gift cards"},
	}
	d, err := NewStub().Draft(context.Background(), "text", articles)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if strings.Join(d.Citations, ",") != "kb-1,kb-2,kb-3" {
		t.Errorf("citations = %v", d.Citations)
	}
	if d.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", d.Confidence)
	}
	for _, title := range []string{"Refund timelines", "Duplicate charges", "Payment methods"} {
		if !strings.Contains(d.Reply, title) {
			t.Errorf("reply missing %q: %s", title, d.Reply)
		}
	}
	if strings.Contains(d.Reply, "Gift cards") {
		t.Error("reply should only reference the top 3 articles")
	}
}

func TestStub_DraftWithoutArticles(t *testing.T) {
	t.Parallel()

	d, _ := NewStub().Draft(context.Background(), "text", nil)
	if len(d.Citations) != 0 {
		t.Errorf("citations = %v, want none", d.Citations)
	}
	if d.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", d.Confidence)
	}
	if d.Reply == "" {
		t.Error("expected a reply")
	}
}

func TestStub_Info(t *testing.T) {
	t.Parallel()

	s := NewStub()
	if !s.IsStubMode() {
		t.Error("IsStubMode = false")
	}
	if info := s.Info(); info.Provider != "stub" || info.PromptVersion == "" {
		t.Errorf("Info = %+v", info)
	}
}
