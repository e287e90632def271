// Package pgstore provides PostgreSQL implementations of triage.SuggestionStore
// and the audit sink.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/ticket"
	"github.com/linnemanlabs/deskmate/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/deskmate/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists suggestions and audit entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the shared pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply triage schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const suggestionColumns = `ticket_id, trace_id, category, article_ids, citations, draft, confidence,
	auto_closed, provider, model, prompt_version, latency_ms, stub_mode, updated_at`

// Upsert inserts or replaces the ticket's suggestion. Last writer wins.
func (s *Store) Upsert(ctx context.Context, sg *triage.Suggestion) (*triage.Suggestion, error) {
	ctx, span := tracer.Start(ctx, "triage.pgstore.Upsert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("deskmate.ticket.id", sg.TicketID),
	))
	defer span.End()

	cp := sg.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO triage_suggestions (`+suggestionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (ticket_id) DO UPDATE SET
			trace_id = EXCLUDED.trace_id,
			category = EXCLUDED.category,
			article_ids = EXCLUDED.article_ids,
			citations = EXCLUDED.citations,
			draft = EXCLUDED.draft,
			confidence = EXCLUDED.confidence,
			auto_closed = EXCLUDED.auto_closed,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			prompt_version = EXCLUDED.prompt_version,
			latency_ms = EXCLUDED.latency_ms,
			stub_mode = EXCLUDED.stub_mode,
			updated_at = EXCLUDED.updated_at`,
		cp.TicketID, cp.TraceID, string(cp.Category), nonNil(cp.ArticleIDs), nonNil(cp.Citations),
		cp.Draft, cp.Confidence, cp.AutoClosed,
		cp.Model.Provider, cp.Model.Model, cp.Model.PromptVersion, cp.Model.LatencyMS, cp.Model.StubMode,
		cp.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upsert suggestion: %w", err)
	}
	return cp, nil
}

// FindByTicket returns the ticket's suggestion.
func (s *Store) FindByTicket(ctx context.Context, ticketID string) (*triage.Suggestion, bool, error) {
	ctx, span := tracer.Start(ctx, "triage.pgstore.FindByTicket", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("deskmate.ticket.id", ticketID),
	))
	defer span.End()

	var (
		sg       triage.Suggestion
		category string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+suggestionColumns+` FROM triage_suggestions WHERE ticket_id = $1`, ticketID,
	).Scan(
		&sg.TicketID, &sg.TraceID, &category, &sg.ArticleIDs, &sg.Citations, &sg.Draft, &sg.Confidence,
		&sg.AutoClosed, &sg.Model.Provider, &sg.Model.Model, &sg.Model.PromptVersion, &sg.Model.LatencyMS,
		&sg.Model.StubMode, &sg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan suggestion: %w", err)
	}
	sg.Category = ticket.Category(category)
	return &sg, true, nil
}

// Append inserts one audit entry. Rows are never updated or deleted.
func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	ctx, span := tracer.Start(ctx, "triage.pgstore.AuditAppend", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("deskmate.audit.action", e.Action),
	))
	defer span.End()

	meta, err := json.Marshal(e.Meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	if e.Meta == nil {
		meta = []byte("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (ticket_id, trace_id, actor, action, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.TicketID, e.TraceID, string(e.Actor), e.Action, meta, e.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByTrace returns the entries of one run in write order.
func (s *Store) ListByTrace(ctx context.Context, traceID string) ([]audit.Entry, error) {
	return s.list(ctx, "triage.pgstore.ListByTrace", `trace_id = $1`, traceID)
}

// ListByTicket returns every entry for a ticket in write order.
func (s *Store) ListByTicket(ctx context.Context, ticketID string) ([]audit.Entry, error) {
	return s.list(ctx, "triage.pgstore.ListByTicket", `ticket_id = $1`, ticketID)
}

func (s *Store) list(ctx context.Context, spanName, where, arg string) ([]audit.Entry, error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, trace_id, actor, action, meta, created_at
		FROM audit_log WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e     audit.Entry
			actor string
			meta  []byte
		)
		if err := rows.Scan(&e.TicketID, &e.TraceID, &actor, &e.Action, &meta, &e.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Actor = audit.Actor(actor)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal audit meta: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
