package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/storage"
)

func newSQLiteStore(t *testing.T, templates ...core.Template) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "moneta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	for _, tmpl := range templates {
		if _, err := repo.CreateTemplate(context.Background(), tmpl); err != nil {
			t.Fatalf("CreateTemplate: %v", err)
		}
	}
	return repo
}

func sqliteInstances(t *testing.T, repo *storage.SQLiteRepository) []core.Transaction {
	t.Helper()
	txs, err := repo.ListTransactions(context.Background(), storage.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	return txs
}

// cancelBeforeCreator cancels the run context, then delegates, so the
// insert sees a dead context after the template was claimed.
type cancelBeforeCreator struct {
	next   TransactionCreator
	cancel context.CancelFunc
}

func (c *cancelBeforeCreator) CreateTransaction(ctx context.Context, t core.Transaction, templateID uuid.UUID) (core.Transaction, error) {
	c.cancel()
	return c.next.CreateTransaction(ctx, t, templateID)
}

func TestProcessDueRecurrencesSQLite_CancelledInsertLeavesTemplateUnchanged(t *testing.T) {
	tmpl := newTemplate(at(2025, 1, 31), core.Monthly)
	repo := newSQLiteStore(t, tmpl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	creator := &cancelBeforeCreator{next: NewTransactionService(repo, nil), cancel: cancel}
	p := NewRecurringProcessor(repo, creator)

	summary, err := p.ProcessDueRecurrences(ctx, at(2025, 3, 1))
	if err != nil {
		t.Fatalf("ProcessDueRecurrences: %v", err)
	}
	checkSummary(t, summary, 0, 0, 1, 1)

	if n := len(sqliteInstances(t, repo)); n != 0 {
		t.Fatalf("expected no instances, got %d", n)
	}
	got, err := repo.GetTemplate(context.Background(), tmpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.LastProcessedAt != nil {
		t.Fatalf("LastProcessedAt = %v, want unchanged after failed insert", got.LastProcessedAt)
	}

	// the same period is generated on the next run
	retry := NewRecurringProcessor(repo, NewTransactionService(repo, nil))
	summary, _ = retry.ProcessDueRecurrences(context.Background(), at(2025, 3, 1))
	checkSummary(t, summary, 1, 0, 0, 1)
	txs := sqliteInstances(t, repo)
	if len(txs) != 1 || !txs[0].Date.Equal(core.NewDate(2025, 2, 28)) {
		t.Errorf("instances = %+v, want one dated 2025-02-28", txs)
	}
}

func TestProcessDueRecurrencesSQLite_ClockTimeRoundTrip(t *testing.T) {
	tmpl := newTemplate(at(2025, 1, 1), core.Monthly)
	repo := newSQLiteStore(t, tmpl)
	ctx := context.Background()

	// a wall clock reading with a monotonic component in a non-UTC zone
	asOf := time.Now().In(time.FixedZone("UTC+5:30", 5*3600+1800))
	p := NewRecurringProcessor(repo, NewTransactionService(repo, nil))

	summary, err := p.ProcessDueRecurrences(ctx, asOf)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	checkSummary(t, summary, 1, 0, 0, 1)

	got, _ := repo.GetTemplate(ctx, tmpl.ID)
	if got.LastProcessedAt == nil || !got.LastProcessedAt.Equal(asOf) {
		t.Fatalf("LastProcessedAt = %v, want %v", got.LastProcessedAt, asOf)
	}

	// same instant again: not due
	summary, _ = p.ProcessDueRecurrences(ctx, asOf)
	checkSummary(t, summary, 0, 1, 0, 1)

	// the stored value must work as the CAS token for the next period
	later := asOf.AddDate(0, 2, 0)
	summary, _ = p.ProcessDueRecurrences(ctx, later)
	checkSummary(t, summary, 1, 0, 0, 1)

	if n := len(sqliteInstances(t, repo)); n != 2 {
		t.Errorf("expected 2 instances, got %d", n)
	}
	got, _ = repo.GetTemplate(ctx, tmpl.ID)
	if got.LastProcessedAt == nil || !got.LastProcessedAt.Equal(later) {
		t.Errorf("LastProcessedAt = %v, want %v", got.LastProcessedAt, later)
	}
}
