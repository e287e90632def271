package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/deskmate/internal/ticket"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

func testNotification() *triage.Notification {
	return &triage.Notification{
		TicketID:   "01JN123",
		TraceID:    "01JNTRACE",
		Title:      "Refund for double charge",
		Status:     ticket.StatusResolved,
		Category:   ticket.CategoryBilling,
		Confidence: 0.9,
		Message:    "Your ticket was resolved automatically.",
		CreatedAt:  time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestBroadcast_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.BroadcastToUser(context.Background(), "U123", triage.EventTicketStatus, testNotification()); err != nil {
		t.Fatalf("BroadcastToUser: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, fields, divider, message, context
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "resolved automatically") || !strings.Contains(headerText, "Refund for double charge") {
		t.Errorf("header text = %q", headerText)
	}
	if !strings.Contains(headerText, "\U0001f7e2") {
		t.Error("header should contain green circle for resolved")
	}

	fields := blocks[1].(map[string]any)["fields"].([]any)
	first := fields[0].(map[string]any)["text"].(string)
	if first != "*For:* <@U123>" {
		t.Errorf("first field = %q", first)
	}

	ctxText := blocks[4].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "01JN123") || !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context text = %q", ctxText)
	}
}

func TestBroadcast_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.BroadcastToUser(context.Background(), "U1", triage.EventTicketStatus, testNotification()); err != nil {
		t.Fatalf("BroadcastToUser with empty URL should be no-op, got: %v", err)
	}
}

func TestBroadcast_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.BroadcastToUser(context.Background(), "U1", triage.EventTicketAssigned, testNotification())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestHeadline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event  string
		status ticket.Status
		want   string
	}{
		{triage.EventTicketStatus, ticket.StatusResolved, "Ticket resolved automatically"},
		{triage.EventTicketAssigned, ticket.StatusWaitingHuman, "Ticket needs review"},
		{triage.EventTicketStatus, ticket.StatusOpen, "Ticket update"},
		{"other", "", "Ticket update"},
	}
	for _, tt := range tests {
		if got := headline(tt.event, tt.status); got != tt.want {
			t.Errorf("headline(%q, %q) = %q, want %q", tt.event, tt.status, got, tt.want)
		}
	}
}

func TestStatusEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status ticket.Status
		want   string
	}{
		{ticket.StatusResolved, "\U0001f7e2"},
		{ticket.StatusClosed, "\U0001f7e2"},
		{ticket.StatusWaitingHuman, "\U0001f7e1"},
		{ticket.StatusOpen, "\U0001f535"},
	}
	for _, tt := range tests {
		if got := statusEmoji(tt.status); got != tt.want {
			t.Errorf("statusEmoji(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Refund", "billing", "Resolved.", "U1")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "tech", "*bold* _italic_ ~strike~", "U2")
	f.Add("title\x00\x01\x02", "cat\nline", "msg\ttab", "u\x00ser")
	f.Add(strings.Repeat("A", 5000), "other", strings.Repeat("x", 10000), "U3")

	f.Fuzz(func(t *testing.T, title, category, message, user string) {
		nt := &triage.Notification{
			TicketID:  "fuzz-id",
			Title:     title,
			Status:    ticket.StatusWaitingHuman,
			Category:  ticket.Category(category),
			Message:   message,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		msg := buildMessage(user, triage.EventTicketAssigned, nt)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		blocks, ok := decoded["blocks"].([]any)
		if !ok || len(blocks) != 5 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}
