package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"moneta/internal/core"
	"moneta/internal/storage"
)

// ErrRunInProgress is returned when ProcessDueRecurrences is called while
// another run on the same processor has not finished.
var ErrRunInProgress = errors.New("recurring run already in progress")

// restoreTimeout bounds the rollback of a claim. The rollback runs detached
// from the run context so a cancelled run still leaves the template unchanged.
const restoreTimeout = 5 * time.Second

// TransactionCreator persists a generated instance.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, t core.Transaction, templateID uuid.UUID) (core.Transaction, error)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeProcessed
	outcomeFailed
)

// RecurringProcessor materializes due instances of recurring templates.
type RecurringProcessor struct {
	store       storage.TemplateStore
	creator     TransactionCreator
	now         func() time.Time
	concurrency int

	running sync.Mutex
}

type ProcessorOption func(*RecurringProcessor)

// WithClock sets the time source used when asOf is zero.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *RecurringProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithConcurrency processes up to n templates at once. n <= 1 is sequential.
func WithConcurrency(n int) ProcessorOption {
	return func(p *RecurringProcessor) {
		p.concurrency = n
	}
}

func NewRecurringProcessor(store storage.TemplateStore, creator TransactionCreator, opts ...ProcessorOption) *RecurringProcessor {
	p := &RecurringProcessor{
		store:       store,
		creator:     creator,
		now:         time.Now,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessDueRecurrences generates at most one instance per active template
// whose next due time is not after asOf, and deactivates expired templates.
// A zero asOf means now. Only a failure to list templates is returned as an
// error; per-template failures are logged and counted in the summary.
func (p *RecurringProcessor) ProcessDueRecurrences(ctx context.Context, asOf time.Time) (core.RunSummary, error) {
	if p.store == nil || p.creator == nil {
		return core.RunSummary{}, fmt.Errorf("processor not properly initialized")
	}
	if !p.running.TryLock() {
		return core.RunSummary{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	if asOf.IsZero() {
		asOf = p.now()
	}

	templates, err := p.store.ListActiveRecurring(ctx)
	if err != nil {
		return core.RunSummary{}, fmt.Errorf("list active recurring templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		"total_active", len(templates),
		"as_of", asOf.Format(time.RFC3339))

	summary := core.RunSummary{AsOf: asOf, Total: len(templates)}
	var processed, skipped, failed atomic.Int64
	count := func(o outcome) {
		switch o {
		case outcomeProcessed:
			processed.Add(1)
		case outcomeFailed:
			failed.Add(1)
		default:
			skipped.Add(1)
		}
	}

	if p.concurrency <= 1 {
		for _, t := range templates {
			if ctx.Err() != nil {
				break
			}
			count(p.processTemplate(ctx, t, asOf))
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for _, t := range templates {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				count(p.processTemplate(gctx, t, asOf))
				return nil
			})
		}
		_ = g.Wait()
	}

	summary.Processed = int(processed.Load())
	summary.Skipped = int(skipped.Load())
	summary.Failed = int(failed.Load())
	if err := ctx.Err(); err != nil {
		slog.WarnContext(ctx, "Recurring run interrupted",
			"remaining", summary.Total-summary.Processed-summary.Skipped-summary.Failed,
			"error", err)
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"total", summary.Total)

	return summary, nil
}

func (p *RecurringProcessor) processTemplate(ctx context.Context, t core.Template, asOf time.Time) outcome {
	if t.ExpiredAt(asOf) {
		if err := p.store.DeactivateTemplate(ctx, t.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to deactivate expired template",
				"template_id", t.ID,
				"error", err)
			return outcomeFailed
		}
		slog.InfoContext(ctx, "Deactivated expired template",
			"template_id", t.ID,
			"end_date", t.EndDate.Format(core.DateLayout))
		return outcomeSkipped
	}

	nextDue := t.NextDue()
	if nextDue.After(asOf) {
		slog.DebugContext(ctx, "Template not due",
			"template_id", t.ID,
			"frequency", t.Frequency,
			"next_due", nextDue.Format(time.RFC3339))
		return outcomeSkipped
	}

	prev := t.LastProcessedAt
	claimed := asOf
	if err := p.store.AdvanceLastProcessed(ctx, t.ID, prev, &claimed); err != nil {
		if errors.Is(err, storage.ErrStaleTemplate) {
			slog.InfoContext(ctx, "Template already advanced by another run",
				"template_id", t.ID)
			return outcomeSkipped
		}
		slog.ErrorContext(ctx, "Failed to claim template",
			"template_id", t.ID,
			"error", err)
		return outcomeFailed
	}

	created, err := p.creator.CreateTransaction(ctx, t.Instance(nextDue), t.ID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create transaction from template",
			"template_id", t.ID,
			"next_due", nextDue.Format(time.RFC3339),
			"error", err)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if rerr := p.store.AdvanceLastProcessed(rctx, t.ID, &claimed, prev); rerr != nil {
			slog.ErrorContext(ctx, "Failed to restore template after insert failure",
				"template_id", t.ID,
				"error", rerr)
		}
		return outcomeFailed
	}

	slog.InfoContext(ctx, "Created transaction from template",
		"template_id", t.ID,
		"transaction_id", created.ID,
		"frequency", t.Frequency,
		"next_due", nextDue.Format(time.RFC3339),
		"amount", created.Amount.StringFixed(2))
	return outcomeProcessed
}
