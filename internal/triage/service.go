package triage

import (
	"context"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/postgres"
)

// Service is the business boundary for triage operations.
type Service struct {
	engine *Engine
	trail  audit.Reader
	logger log.Logger

	wg sync.WaitGroup
}

// NewService creates a new triage service. trail may be nil when the audit
// sink cannot be read back.
func NewService(engine *Engine, trail audit.Reader, logger log.Logger) *Service {
	if engine == nil {
		panic(xerrors.New("triage engine is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		engine: engine,
		trail:  trail,
		logger: logger,
	}
}

// Triage runs the workflow and waits for its terminal context.
func (s *Service) Triage(ctx context.Context, ticketID string) *WorkflowContext {
	return s.engine.Triage(ctx, ticketID)
}

// Dispatch starts a run in the background and returns immediately. The run is
// detached from ctx cancellation, so it outlives the request that started it.
func (s *Service) Dispatch(ctx context.Context, ticketID string) {
	if s.engine.hooks.OnDispatch != nil {
		s.engine.hooks.OnDispatch()
	}
	s.wg.Add(1)
	go s.runTriage(postgres.WithJob(context.WithoutCancel(ctx), "triage"), ticketID)
}

func (s *Service) runTriage(ctx context.Context, ticketID string) {
	defer s.wg.Done()
	wc := s.engine.Triage(ctx, ticketID)
	if !wc.Succeeded() {
		s.logger.Warn(ctx, "background triage did not complete",
			"ticket_id", ticketID,
			"trace_id", wc.TraceID,
			"error", wc.Error,
		)
	}
}

// Wait blocks until every dispatched run has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suggestion returns the latest suggestion for a ticket.
func (s *Service) Suggestion(ctx context.Context, ticketID string) (*Suggestion, bool, error) {
	return s.engine.suggestions.FindByTicket(ctx, ticketID)
}

// AuditTrail returns the ticket's audit entries in write order.
func (s *Service) AuditTrail(ctx context.Context, ticketID string) ([]audit.Entry, error) {
	if s.trail == nil {
		return nil, nil
	}
	return s.trail.ListByTicket(ctx, ticketID)
}
