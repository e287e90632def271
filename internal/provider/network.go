package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/retry"
	"github.com/linnemanlabs/deskmate/internal/ticket"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

const (
	// PromptVersion identifies the prompt templates below in suggestion metadata.
	PromptVersion = "triage-v1"

	classifyMaxTokens = 256
	draftMaxTokens    = 1024

	// fallback confidences when the service answers with unusable output
	classifyFallbackConfidence = 0.6
	draftFallbackConfidence    = 0.7

	articleBodyLimit = 1500
)

var errNoJSON = errors.New("no JSON object in response")

// Network asks a text-generation service for classifications and drafts.
// Transport errors are retried per the configured policy; malformed output
// falls back to fixed values instead of failing.
type Network struct {
	llm    triage.LLM
	model  string
	policy retry.Policy
	logger log.Logger
}

// NewNetwork creates a network provider over llm.
func NewNetwork(llm triage.LLM, model string, p retry.Policy, logger log.Logger) *Network {
	if logger == nil {
		logger = log.Nop()
	}
	return &Network{llm: llm, model: model, policy: p, logger: logger}
}

// Classify asks for a category and confidence.
func (n *Network) Classify(ctx context.Context, text string) (*triage.Classification, error) {
	resp, err := n.send(ctx, "classify", &triage.LLMRequest{
		MaxTokens: classifyMaxTokens,
		System:    classifySystemPrompt,
		Prompt:    buildClassifyPrompt(text),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Category   string   `json:"category"`
		Confidence *float64 `json:"confidence"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil || out.Category == "" || out.Confidence == nil {
		n.logger.Warn(ctx, "unparseable classification, using fallback", "error", err)
		return &triage.Classification{Category: ticket.CategoryOther, Confidence: classifyFallbackConfidence}, nil
	}
	return &triage.Classification{
		Category:   ticket.ParseCategory(out.Category),
		Confidence: triage.Clamp(*out.Confidence),
	}, nil
}

// Draft asks for a reply grounded in articles.
func (n *Network) Draft(ctx context.Context, text string, articles []kb.Article) (*triage.Draft, error) {
	resp, err := n.send(ctx, "draft", &triage.LLMRequest{
		MaxTokens: draftMaxTokens,
		System:    draftSystemPrompt,
		Prompt:    buildDraftPrompt(text, articles),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Reply      string   `json:"reply"`
		Citations  []string `json:"citations"`
		Confidence *float64 `json:"confidence"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil || strings.TrimSpace(out.Reply) == "" {
		n.logger.Warn(ctx, "unparseable draft, using template", "error", err)
		return &triage.Draft{
			Reply:      fallbackReply(articles),
			Citations:  articleIDs(articles),
			Confidence: draftFallbackConfidence,
		}, nil
	}

	conf := draftFallbackConfidence
	if out.Confidence != nil {
		conf = triage.Clamp(*out.Confidence)
	}
	return &triage.Draft{
		Reply:      out.Reply,
		Citations:  knownCitations(out.Citations, articles),
		Confidence: conf,
	}, nil
}

// IsStubMode is always false.
func (*Network) IsStubMode() bool { return false }

// Info describes the backing model.
func (n *Network) Info() triage.ModelInfo {
	return triage.ModelInfo{Provider: string(ModeAnthropic), Model: n.model, PromptVersion: PromptVersion}
}

func (n *Network) send(ctx context.Context, op string, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	resp, err := retry.Do(ctx, n.policy, func(ctx context.Context) (*triage.LLMResponse, error) {
		return n.llm.Send(ctx, req)
	}, retry.WithNotify(func(attempt int, err error, next time.Duration) {
		n.logger.Warn(ctx, "llm call failed, retrying",
			"op", op,
			"attempt", attempt,
			"next_delay", next.String(),
			"error", err,
		)
	}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// decodeJSON unmarshals the outermost {...} in s, tolerating prose or code
// fences around it.
func decodeJSON(s string, v any) error {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return errNoJSON
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

// knownCitations keeps only ids of supplied articles, in the model's order.
func knownCitations(ids []string, articles []kb.Article) []string {
	known := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		known[a.ID] = struct{}{}
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; ok {
			kept = append(kept, id)
		}
	}
	return triage.CapCitations(kept)
}
