// Package slack posts triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/deskmate/internal/ticket"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends triage notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, BroadcastToUser is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// BroadcastToUser posts the notification to the channel, addressed to userID.
func (n *Notifier) BroadcastToUser(ctx context.Context, userID, event string, nt *triage.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(userID, event, nt))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "event", event, "ticket_id", nt.TicketID)
	return nil
}

func buildMessage(userID, event string, nt *triage.Notification) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("%s: %s", headline(event, nt.Status), nt.Title),
		"blocks": []map[string]any{
			headerBlock(event, nt),
			fieldsBlock(userID, nt),
			{"type": "divider"},
			messageBlock(nt),
			contextBlock(nt),
		},
	}
}

func headline(event string, status ticket.Status) string {
	switch {
	case event == triage.EventTicketStatus && status == ticket.StatusResolved:
		return "Ticket resolved automatically"
	case event == triage.EventTicketAssigned:
		return "Ticket needs review"
	default:
		return "Ticket update"
	}
}

func headerBlock(event string, nt *triage.Notification) map[string]any {
	text := fmt.Sprintf("%s %s: %s", statusEmoji(nt.Status), headline(event, nt.Status), nt.Title)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func fieldsBlock(userID string, nt *triage.Notification) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*For:* <@%s>", userID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", nt.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", nt.Category),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.0f%%", nt.Confidence*100),
		},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func messageBlock(nt *triage.Notification) map[string]any {
	text := truncate(nt.Message, maxMessageLen)
	if text == "" {
		text = "_No details._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(nt *triage.Notification) map[string]any {
	ts := nt.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("deskmate • ticket %s • trace %s • %s", nt.TicketID, nt.TraceID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func statusEmoji(status ticket.Status) string {
	switch status {
	case ticket.StatusResolved, ticket.StatusClosed:
		return "\U0001f7e2" // green circle
	case ticket.StatusWaitingHuman:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f535" // blue circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
