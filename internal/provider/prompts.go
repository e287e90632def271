package provider

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/deskmate/internal/kb"
)

const classifySystemPrompt = `You are Deskmate, a customer support triage assistant.
Classify the support ticket into exactly one category: billing, tech, shipping, or other.
Respond with only a JSON object of the form {"category": "<category>", "confidence": <number between 0 and 1>}.`

const draftSystemPrompt = `You are Deskmate, a customer support assistant drafting a reply to a customer.
Be concise, friendly and specific. Only rely on the knowledge base articles provided.
Respond with only a JSON object of the form
{"reply": "<reply text>", "citations": ["<article id>", ...], "confidence": <number between 0 and 1>}.
Cite at most 3 article ids, most relevant first.`

func buildClassifyPrompt(text string) string {
	return fmt.Sprintf("Ticket:\n%s\n\nClassify this ticket.", text)
}

func buildDraftPrompt(text string, articles []kb.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ticket:\n%s\n\n", text)
	if len(articles) == 0 {
		sb.WriteString("No knowledge base articles matched this ticket.\n")
	} else {
		sb.WriteString("Knowledge base articles:\n")
		for _, a := range articles {
			body := truncateBody(a.Body, articleBodyLimit)
			fmt.Fprintf(&sb, "\n[%s] %s\n%s\n", a.ID, a.Title, body)
		}
	}
	sb.WriteString("\nDraft a reply to the customer.")
	return sb.String()
}

// truncateBody cuts s to at most n bytes without splitting a rune.
func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
