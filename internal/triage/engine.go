// internal/triage/engine.go
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/policy"
	"github.com/linnemanlabs/deskmate/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/deskmate/internal/triage")

const (
	// RetrieveLimit is how many knowledge base articles a run considers.
	RetrieveLimit = 3

	// DefaultRunTimeout bounds a whole run when EngineDeps.RunTimeout is unset.
	DefaultRunTimeout = 2 * time.Minute
)

// EngineHooks are optional callbacks for instrumentation.
type EngineHooks struct {
	OnProviderCall func(op string, duration float64, err error)
	OnStage        func(state State, duration float64, err error)
	OnComplete     func(e *CompleteEvent)
	OnDispatch     func()
}

// CompleteEvent summarizes a finished run.
type CompleteEvent struct {
	State      State
	Decision   Decision
	Category   ticket.Category
	Confidence float64
	Provider   string
	Duration   float64
}

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Tickets     TicketStore
	Suggestions SuggestionStore
	Provider    Provider
	Retriever   kb.Retriever
	Audit       *audit.Recorder
	Policy      policy.Source
	Notifier    Notifier
	Logger      log.Logger
	Hooks       EngineHooks
	RunTimeout  time.Duration
}

// Engine runs the triage workflow. It holds no per-run state and no locks, so
// any number of runs may execute concurrently.
type Engine struct {
	tickets     TicketStore
	suggestions SuggestionStore
	provider    Provider
	retriever   kb.Retriever
	audit       *audit.Recorder
	policy      policy.Source
	notifier    Notifier
	logger      log.Logger
	hooks       EngineHooks
	runTimeout  time.Duration
	now         func() time.Time
}

// NewEngine creates a triage engine. Tickets, Suggestions, Provider, Retriever
// and Policy are required.
func NewEngine(d EngineDeps) *Engine {
	switch {
	case d.Tickets == nil:
		panic(xerrors.New("ticket store is required"))
	case d.Suggestions == nil:
		panic(xerrors.New("suggestion store is required"))
	case d.Provider == nil:
		panic(xerrors.New("provider is required"))
	case d.Retriever == nil:
		panic(xerrors.New("retriever is required"))
	case d.Policy == nil:
		panic(xerrors.New("policy source is required"))
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil, d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.RunTimeout <= 0 {
		d.RunTimeout = DefaultRunTimeout
	}
	return &Engine{
		tickets:     d.Tickets,
		suggestions: d.Suggestions,
		provider:    d.Provider,
		retriever:   d.Retriever,
		audit:       d.Audit,
		policy:      d.Policy,
		notifier:    d.Notifier,
		logger:      d.Logger,
		hooks:       d.Hooks,
		runTimeout:  d.RunTimeout,
		now:         time.Now,
	}
}

// Triage runs the workflow once for ticketID under a fresh trace id. It never
// panics and never returns an error: inspect the returned context's State.
func (e *Engine) Triage(ctx context.Context, ticketID string) (wc *WorkflowContext) {
	start := e.now()
	wc = newWorkflowContext(ticketID, ulid.Make().String(), start.UTC())

	L := e.logger.With("ticket_id", ticketID, "trace_id", wc.TraceID)

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("deskmate.ticket.id", ticketID),
		attribute.String("deskmate.trace.id", wc.TraceID),
		attribute.String("deskmate.provider", e.provider.Info().Provider),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.failRun(ctx, L, span, wc, fmt.Errorf("triage panic: %v", r))
		}
		ctx := context.WithoutCancel(ctx)
		wc.CompletedAt = e.now().UTC()
		duration := e.now().Sub(start).Seconds()

		span.SetAttributes(
			attribute.String("deskmate.triage.state", string(wc.State)),
			attribute.String("deskmate.triage.decision", string(wc.Decision)),
		)
		if e.hooks.OnComplete != nil {
			e.hooks.OnComplete(&CompleteEvent{
				State:      wc.State,
				Decision:   wc.Decision,
				Category:   wc.Category,
				Confidence: wc.Confidence,
				Provider:   e.provider.Info().Provider,
				Duration:   duration,
			})
		}
		L.Info(ctx, "triage finished",
			"state", wc.State,
			"decision", wc.Decision,
			"category", wc.Category,
			"confidence", wc.Confidence,
			"duration", duration,
		)
	}()

	if err := e.run(ctx, L, wc, start); err != nil {
		e.failRun(ctx, L, span, wc, err)
		return wc
	}
	span.SetStatus(codes.Ok, "")
	return wc
}

func (e *Engine) run(ctx context.Context, L log.Logger, wc *WorkflowContext, start time.Time) error {
	t, ok, err := e.tickets.Get(ctx, wc.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, wc.TicketID)
	}

	info := e.provider.Info()
	e.record(ctx, wc, audit.ActorSystem, audit.ActionTriagePlanned, map[string]any{
		"ticket_status": string(t.Status),
		"provider":      info.Provider,
		"stub_mode":     e.provider.IsStubMode(),
	})

	text := t.Text()

	if err := e.stage(ctx, wc, StateClassifying, func(ctx context.Context) error {
		return e.classify(ctx, wc, text)
	}); err != nil {
		return err
	}

	var articles []kb.Article
	if err := e.stage(ctx, wc, StateRetrieving, func(ctx context.Context) error {
		var err error
		articles, err = e.retrieve(ctx, wc, text)
		return err
	}); err != nil {
		return err
	}

	if err := e.stage(ctx, wc, StateDrafting, func(ctx context.Context) error {
		return e.draft(ctx, wc, text, articles)
	}); err != nil {
		return err
	}

	if err := e.stage(ctx, wc, StateDeciding, func(ctx context.Context) error {
		wc.ModelLatencyMS = e.now().Sub(start).Milliseconds()
		return e.decide(ctx, L, wc, t)
	}); err != nil {
		return err
	}

	return wc.advance(StateCompleted)
}

// stage advances into state and runs fn under a child span.
func (e *Engine) stage(ctx context.Context, wc *WorkflowContext, state State, fn func(context.Context) error) error {
	if err := wc.advance(state); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "triage.stage", trace.WithAttributes(
		attribute.String("deskmate.stage", string(state)),
	))
	defer span.End()

	start := e.now()
	err := fn(ctx)
	if e.hooks.OnStage != nil {
		e.hooks.OnStage(state, e.now().Sub(start).Seconds(), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) classify(ctx context.Context, wc *WorkflowContext, text string) error {
	start := e.now()
	cls, err := e.provider.Classify(ctx, text)
	e.providerCall("classify", start, err)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if cls == nil {
		return errors.New("classify: provider returned no result")
	}

	wc.Category = ticket.ParseCategory(string(cls.Category))
	wc.Confidence = Clamp(cls.Confidence)

	e.record(ctx, wc, audit.ActorAgent, audit.ActionAgentClassified, map[string]any{
		"category":   string(wc.Category),
		"confidence": wc.Confidence,
	})
	return nil
}

func (e *Engine) retrieve(ctx context.Context, wc *WorkflowContext, text string) ([]kb.Article, error) {
	scored, err := e.retriever.RelevantArticles(ctx, text, RetrieveLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieve articles: %w", err)
	}
	if len(scored) > RetrieveLimit {
		scored = scored[:RetrieveLimit]
	}

	articles := make([]kb.Article, 0, len(scored))
	ids := make([]string, 0, len(scored))
	scores := make([]float64, 0, len(scored))
	for _, sa := range scored {
		articles = append(articles, sa.Article)
		ids = append(ids, sa.Article.ID)
		scores = append(scores, sa.Score)
	}
	wc.ArticleIDs = ids

	e.record(ctx, wc, audit.ActorSystem, audit.ActionKBRetrieved, map[string]any{
		"article_ids": ids,
		"scores":      scores,
	})
	return articles, nil
}

func (e *Engine) draft(ctx context.Context, wc *WorkflowContext, text string, articles []kb.Article) error {
	start := e.now()
	d, err := e.provider.Draft(ctx, text, articles)
	e.providerCall("draft", start, err)
	if err != nil {
		return fmt.Errorf("draft: %w", err)
	}
	if d == nil {
		return errors.New("draft: provider returned no result")
	}

	wc.Draft = d.Reply
	wc.Citations = CapCitations(d.Citations)
	wc.DraftConfidence = Clamp(d.Confidence)

	e.record(ctx, wc, audit.ActorAgent, audit.ActionDraftGenerated, map[string]any{
		"citations":        wc.Citations,
		"draft_confidence": wc.DraftConfidence,
	})
	return nil
}

func (e *Engine) providerCall(op string, start time.Time, err error) {
	if e.hooks.OnProviderCall != nil {
		e.hooks.OnProviderCall(op, e.now().Sub(start).Seconds(), err)
	}
}

// record is the only path to the audit trail.
func (e *Engine) record(ctx context.Context, wc *WorkflowContext, actor audit.Actor, action string, meta map[string]any) {
	e.audit.Log(ctx, wc.TicketID, wc.TraceID, actor, action, meta)
}

func (e *Engine) failRun(ctx context.Context, L log.Logger, span trace.Span, wc *WorkflowContext, err error) {
	// the run deadline may already have fired; the failure entry must still land
	ctx = context.WithoutCancel(ctx)
	failedIn := wc.State
	wc.fail(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	L.Error(ctx, err, "triage failed", "stage", failedIn)

	e.record(ctx, wc, audit.ActorSystem, audit.ActionTriageFailed, map[string]any{
		"error": err.Error(),
		"stage": string(failedIn),
	})
}
