// Package provider implements triage.Provider: a deterministic keyword stub
// and a network provider backed by a text-generation service.
package provider

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/retry"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

// Mode names a provider variant.
type Mode string

const (
	ModeStub      Mode = "stub"
	ModeAnthropic Mode = "anthropic"
)

// Config selects and tunes a provider.
type Config struct {
	Mode  Mode
	Model string
	Retry retry.Policy
}

// New returns the provider selected by cfg. llm is only used, and then
// required, in network mode.
func New(cfg Config, llm triage.LLM, logger log.Logger) (triage.Provider, error) {
	switch cfg.Mode {
	case ModeStub, "":
		return NewStub(), nil
	case ModeAnthropic:
		if llm == nil {
			return nil, fmt.Errorf("provider %q requires an LLM client", cfg.Mode)
		}
		if err := cfg.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("provider retry policy: %w", err)
		}
		return NewNetwork(llm, cfg.Model, cfg.Retry, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Mode)
	}
}

// fallbackReply is the fixed template used when no generated draft is available.
func fallbackReply(articles []kb.Article) string {
	var sb strings.Builder
	sb.WriteString("Thanks for reaching out. ")
	if len(articles) == 0 {
		sb.WriteString("A member of our support team will follow up with you shortly.")
		return sb.String()
	}
	sb.WriteString("These articles may help with your request:\n")
	for i, a := range articles {
		if i == triage.MaxCitations {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", a.Title)
	}
	sb.WriteString("If they don't resolve the issue, reply to this ticket and we'll take a closer look.")
	return sb.String()
}

func articleIDs(articles []kb.Article) []string {
	ids := make([]string, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ID)
	}
	return triage.CapCitations(ids)
}
