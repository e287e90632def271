// Package pgstore provides a PostgreSQL implementation of ticket.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/deskmate/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/deskmate/internal/ticket/pgstore")

//go:embed schema.sql
var schema string

// Store persists tickets and replies in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the shared pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply ticket schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const ticketColumns = `id, title, description, category, status, creator_id, assignee_id,
	attachments, created_at, updated_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Create inserts a new ticket, filling ID, status and category when unset.
func (s *Store) Create(ctx context.Context, t *ticket.Ticket) error {
	ctx, span := startSpan(ctx, "ticket.pgstore.Create", "INSERT")
	defer span.End()

	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.Status == "" {
		t.Status = ticket.StatusOpen
	}
	if t.Category == "" {
		t.Category = ticket.CategoryOther
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	attachments := t.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (`+ticketColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.Title, t.Description, string(t.Category), string(t.Status), t.CreatorID, t.AssigneeID,
		attachments, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert ticket: %w", err))
	}
	return nil
}

// Get retrieves a ticket by ID, including its replies in append order.
func (s *Store) Get(ctx context.Context, id string) (*ticket.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "ticket.pgstore.Get", "SELECT")
	defer span.End()

	var (
		t        ticket.Ticket
		category string
		status   string
	)
	err := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id).Scan(
		&t.ID, &t.Title, &t.Description, &category, &status, &t.CreatorID, &t.AssigneeID,
		&t.Attachments, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan ticket: %w", err))
	}
	t.Category = ticket.Category(category)
	t.Status = ticket.Status(status)

	if err := s.loadReplies(ctx, &t); err != nil {
		return nil, false, fail(span, err)
	}
	return &t, true, nil
}

// AppendReply adds a reply to the ticket.
func (s *Store) AppendReply(ctx context.Context, id string, reply ticket.Reply) error {
	ctx, span := startSpan(ctx, "ticket.pgstore.AppendReply", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx, `UPDATE tickets SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fail(span, fmt.Errorf("touch ticket: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, ticket.ErrNotFound)
	}
	if err := insertReply(ctx, tx, id, reply); err != nil {
		return fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Assign sets the ticket's assignee.
func (s *Store) Assign(ctx context.Context, id, assigneeID string) error {
	ctx, span := startSpan(ctx, "ticket.pgstore.Assign", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET assignee_id = $2, updated_at = now() WHERE id = $1`, id, assigneeID)
	if err != nil {
		return fail(span, fmt.Errorf("assign ticket: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, ticket.ErrNotFound)
	}
	return nil
}

// Advance is a compare-and-set on the status column.
func (s *Store) Advance(ctx context.Context, id string, from, to ticket.Status) (bool, error) {
	ctx, span := startSpan(ctx, "ticket.pgstore.Advance", "UPDATE")
	defer span.End()

	if !from.CanTransition(to) {
		return false, fail(span, fmt.Errorf("%w: %s -> %s", ticket.ErrInvalidTransition, from, to))
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fail(span, fmt.Errorf("advance ticket: %w", err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// distinguish "guard did not match" from "no such ticket"
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fail(span, fmt.Errorf("check ticket: %w", err))
	}
	if !exists {
		return false, fail(span, ticket.ErrNotFound)
	}
	return false, nil
}

// Resolve moves a non-terminal ticket to resolved and appends reply in one transaction.
func (s *Store) Resolve(ctx context.Context, id string, reply ticket.Reply) (bool, error) {
	ctx, span := startSpan(ctx, "ticket.pgstore.Resolve", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fail(span, ticket.ErrNotFound)
	}
	if err != nil {
		return false, fail(span, fmt.Errorf("lock ticket: %w", err))
	}
	if !ticket.Status(status).CanTransition(ticket.StatusResolved) {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(ticket.StatusResolved)); err != nil {
		return false, fail(span, fmt.Errorf("resolve ticket: %w", err))
	}
	if err := insertReply(ctx, tx, id, reply); err != nil {
		return false, fail(span, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fail(span, fmt.Errorf("commit: %w", err))
	}
	return true, nil
}

func insertReply(ctx context.Context, tx pgx.Tx, ticketID string, reply ticket.Reply) error {
	if reply.ID == "" {
		reply.ID = ulid.Make().String()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO ticket_replies (id, ticket_id, content, author_id, author_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		reply.ID, ticketID, reply.Content, reply.AuthorID, string(reply.AuthorType), reply.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (s *Store) loadReplies(ctx context.Context, t *ticket.Ticket) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, author_id, author_type, created_at
		 FROM ticket_replies WHERE ticket_id = $1 ORDER BY seq`,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("query replies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r          ticket.Reply
			authorType string
		)
		if err := rows.Scan(&r.ID, &r.Content, &r.AuthorID, &authorType, &r.CreatedAt); err != nil {
			return fmt.Errorf("scan reply: %w", err)
		}
		r.AuthorType = ticket.AuthorType(authorType)
		t.Replies = append(t.Replies, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate replies: %w", err)
	}
	return nil
}
