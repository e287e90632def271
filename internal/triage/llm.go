package triage

import (
	"context"

	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/ticket"
)

// Provider generates classifications and draft replies for ticket text.
// Implementations are chosen once at startup.
type Provider interface {
	Classify(ctx context.Context, text string) (*Classification, error)
	Draft(ctx context.Context, text string, articles []kb.Article) (*Draft, error)
	IsStubMode() bool
	Info() ModelInfo
}

// Classification is a provider's category guess.
type Classification struct {
	Category   ticket.Category `json:"category"`
	Confidence float64         `json:"confidence"`
}

// Draft is a provider's proposed reply.
type Draft struct {
	Reply      string   `json:"reply"`
	Citations  []string `json:"citations"`
	Confidence float64  `json:"confidence"`
}

// LLM is the raw text-generation backend used by the network provider.
type LLM interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-turn prompt.
type LLMRequest struct {
	MaxTokens int
	System    string
	Prompt    string
}

// LLMResponse is the concatenated text output of one call.
type LLMResponse struct {
	Text  string
	Model string
	Usage Usage
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
