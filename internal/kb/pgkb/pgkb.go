// Package pgkb implements kb.Retriever with PostgreSQL full-text search.
package pgkb

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/deskmate/internal/kb"
)

var tracer = otel.Tracer("github.com/linnemanlabs/deskmate/internal/kb/pgkb")

//go:embed schema.sql
var schema string

// Retriever ranks kb_articles rows with ts_rank against an OR of the query terms.
type Retriever struct {
	pool *pgxpool.Pool
}

// New applies the schema on the shared pool and returns a ready Retriever.
func New(ctx context.Context, pool *pgxpool.Pool) (*Retriever, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply kb schema: %w", err)
	}
	return &Retriever{pool: pool}, nil
}

// tsQuery builds an OR query from sanitised terms; plainto_tsquery would AND
// every word of a long ticket and match nothing.
func tsQuery(query string) string {
	return strings.Join(kb.Terms(query), " | ")
}

// RelevantArticles implements kb.Retriever.
func (r *Retriever) RelevantArticles(ctx context.Context, query string, limit int) ([]kb.ScoredArticle, error) {
	ctx, span := tracer.Start(ctx, "pgkb.RelevantArticles", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.Int("kb.limit", limit),
	))
	defer span.End()

	q := tsQuery(query)
	if q == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, body, tags, ts_rank(search, to_tsquery('english', $1)) AS score
		 FROM kb_articles
		 WHERE search @@ to_tsquery('english', $1)
		 ORDER BY score DESC, id
		 LIMIT $2`,
		q, limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query kb: %w", err)
	}
	defer rows.Close()

	var out []kb.ScoredArticle
	for rows.Next() {
		var (
			sa    kb.ScoredArticle
			score float32
		)
		if err := rows.Scan(&sa.Article.ID, &sa.Article.Title, &sa.Article.Body, &sa.Article.Tags, &score); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan kb article: %w", err)
		}
		sa.Score = float64(score)
		out = append(out, sa)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate kb: %w", err)
	}

	span.SetAttributes(attribute.Int("kb.results", len(out)))
	return out, nil
}
