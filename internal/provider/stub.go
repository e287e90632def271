package provider

import (
	"context"

	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/ticket"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

// keywords per category, checked in this order; earlier categories win ties.
var keywords = []struct {
	category ticket.Category
	words    []string
}{
	{ticket.CategoryBilling, []string{
		"refund", "refunds", "charge", "charged", "charges", "overcharged", "invoice",
		"payment", "billing", "bill", "subscription", "price", "credit", "card", "paid",
	}},
	{ticket.CategoryTech, []string{
		"error", "bug", "crash", "crashes", "login", "password", "install", "app",
		"broken", "website", "loading", "reset", "update",
	}},
	{ticket.CategoryShipping, []string{
		"shipping", "delivery", "delivered", "package", "parcel", "tracking", "shipped",
		"arrive", "arrived", "courier", "delayed",
	}},
}

// confidenceByHits maps distinct keyword hits to a confidence.
func confidenceByHits(hits int) float64 {
	switch {
	case hits <= 0:
		return 0.5
	case hits == 1:
		return 0.7
	case hits == 2:
		return 0.8
	default:
		return 0.9
	}
}

// Stub classifies with fixed keyword rules. It is deterministic and offline.
type Stub struct{}

// NewStub creates the deterministic provider.
func NewStub() *Stub { return &Stub{} }

// Classify picks the category with the most distinct keyword hits. No hits
// yields other at 0.5.
func (*Stub) Classify(_ context.Context, text string) (*triage.Classification, error) {
	terms := make(map[string]struct{})
	for _, t := range kb.Terms(text) {
		terms[t] = struct{}{}
	}

	best, bestHits := ticket.CategoryOther, 0
	for _, k := range keywords {
		hits := 0
		for _, w := range k.words {
			if _, ok := terms[w]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = k.category, hits
		}
	}
	return &triage.Classification{Category: best, Confidence: confidenceByHits(bestHits)}, nil
}

// Draft returns the template reply citing the top articles.
func (*Stub) Draft(_ context.Context, _ string, articles []kb.Article) (*triage.Draft, error) {
	conf := 0.5
	if len(articles) > 0 {
		conf = 0.7
	}
	return &triage.Draft{
		Reply:      fallbackReply(articles),
		Citations:  articleIDs(articles),
		Confidence: conf,
	}, nil
}

// IsStubMode is always true.
func (*Stub) IsStubMode() bool { return true }

// Info describes the stub.
func (*Stub) Info() triage.ModelInfo {
	return triage.ModelInfo{Provider: "stub", Model: "keyword-heuristic", PromptVersion: "stub-v1"}
}
