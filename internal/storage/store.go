// Package storage holds the transaction store used by the recurrence
// processor together with its SQLite implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleTemplate is returned by AdvanceLastProcessed when the stored
	// last_processed_at no longer matches the expected value.
	ErrStaleTemplate = errors.New("template was modified concurrently")
)

// Ports consumed by the services layer.
type (
	// TemplateStore exposes the recurring templates and their bookkeeping state.
	TemplateStore interface {
		// ListActiveRecurring returns templates with is_recurring and is_active
		// set, earliest anchor date first.
		ListActiveRecurring(ctx context.Context) ([]core.Template, error)

		// AdvanceLastProcessed sets last_processed_at to next only if it still
		// equals expected (nil meaning never processed).
		AdvanceLastProcessed(ctx context.Context, id uuid.UUID, expected, next *time.Time) error

		// DeactivateTemplate sets is_active to false.
		DeactivateTemplate(ctx context.Context, id uuid.UUID) error
	}

	TransactionWriter interface {
		InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	}

	TransactionLister interface {
		ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	}

	// Store is the full data store a backend provides.
	Store interface {
		TemplateStore
		TransactionWriter
		TransactionLister
		CreateTemplate(ctx context.Context, t core.Template) (core.Template, error)
		GetTemplate(ctx context.Context, id uuid.UUID) (core.Template, error)
		Ping(ctx context.Context) error
		Close() error
	}
)

// TransactionFilter narrows ListTransactions. Zero fields match everything.
// Only concrete (non-template) transactions are returned.
type TransactionFilter struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	From      time.Time // inclusive
	To        time.Time // inclusive
}

// Match reports whether t passes the filter.
func (f TransactionFilter) Match(t core.Transaction) bool {
	if f.UserID != uuid.Nil && t.UserID != f.UserID {
		return false
	}
	if f.AccountID != uuid.Nil && t.AccountID != f.AccountID {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(core.DateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(core.DateOnly(f.To)) {
		return false
	}
	return true
}
