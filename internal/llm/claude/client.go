// Package claude adapts the Anthropic Messages API to triage.LLM.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/deskmate/internal/retry"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/deskmate/internal/llm/claude")

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// Config holds the connection settings for the Claude API.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client implements triage.LLM for the Claude API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude client. The SDK's own retries are disabled: callers
// wrap Send in their retry policy.
func New(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		sdk:   anthropic.NewClient(opts...),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Send issues one Messages API call.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", c.model),
		attribute.Int("gen_ai.request.max_tokens", req.MaxTokens),
	))
	defer span.End()

	msg, err := c.sdk.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		err = classifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp := fromSDKResponse(msg)
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func toSDKParams(model string, req *triage.LLMRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func fromSDKResponse(msg *anthropic.Message) *triage.LLMResponse {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &triage.LLMResponse{
		Text:  sb.String(),
		Model: string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// classifyError marks client-side API errors as permanent so they are not retried.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("claude request: %w", err)
	}
	if retryable(apiErr.StatusCode) {
		return fmt.Errorf("claude api %d: %w", apiErr.StatusCode, err)
	}
	return retry.Permanent(fmt.Errorf("claude api %d: %w", apiErr.StatusCode, err))
}

func retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return true
	}
	return false
}
