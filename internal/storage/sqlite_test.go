package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "moneta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleTemplate(date time.Time, freq core.Frequency) core.Template {
	cat := uuid.New()
	return core.Template{
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		CategoryID:  &cat,
		Type:        core.Expense,
		Amount:      decimal.RequireFromString("-12.50"),
		Description: "Streaming",
		Notes:       "family plan",
		Tags:        []string{"subscriptions"},
		Status:      core.StatusCompleted,
		Date:        date,
		Frequency:   freq,
		IsActive:    true,
	}
}

func TestSQLiteTemplateRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	end := core.NewDate(2025, 12, 31)
	in := sampleTemplate(core.NewDate(2025, 1, 31), core.Monthly)
	in.EndDate = &end

	created, err := repo.CreateTemplate(ctx, in)
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}

	got, err := repo.GetTemplate(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.Frequency != core.Monthly || !got.Date.Equal(in.Date) || !got.EndDate.Equal(end) {
		t.Errorf("recurrence fields not preserved: %+v", got)
	}
	if got.LastProcessedAt != nil {
		t.Errorf("LastProcessedAt = %v, want nil", got.LastProcessedAt)
	}
	if !got.Amount.Equal(in.Amount) || got.Description != in.Description || got.Notes != in.Notes {
		t.Errorf("financial fields not preserved: %+v", got)
	}
	if got.CategoryID == nil || *got.CategoryID != *in.CategoryID || got.TransferAccountID != nil {
		t.Errorf("optional ids not preserved: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "subscriptions" {
		t.Errorf("Tags = %v", got.Tags)
	}

	if _, err := repo.GetTemplate(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTemplate(unknown) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListActiveRecurringOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	late, _ := repo.CreateTemplate(ctx, sampleTemplate(core.NewDate(2025, 5, 1), core.Weekly))
	early, _ := repo.CreateTemplate(ctx, sampleTemplate(core.NewDate(2025, 1, 1), core.Daily))
	inactive, _ := repo.CreateTemplate(ctx, sampleTemplate(core.NewDate(2024, 1, 1), core.Daily))
	if err := repo.DeactivateTemplate(ctx, inactive.ID); err != nil {
		t.Fatalf("DeactivateTemplate: %v", err)
	}
	// concrete instances are never listed as templates
	if _, err := repo.InsertTransaction(ctx, early.Instance(core.NewDate(2023, 1, 1))); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}

	got, err := repo.ListActiveRecurring(ctx)
	if err != nil {
		t.Fatalf("ListActiveRecurring: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != late.ID {
		t.Errorf("templates not ordered by anchor date: %v, %v", got[0].ID, got[1].ID)
	}
}

func TestSQLiteAdvanceLastProcessed(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tmpl, err := repo.CreateTemplate(ctx, sampleTemplate(core.NewDate(2025, 1, 1), core.Monthly))
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	first := time.Date(2025, 2, 3, 10, 15, 30, 123456789, time.UTC)
	if err := repo.AdvanceLastProcessed(ctx, tmpl.ID, nil, &first); err != nil {
		t.Fatalf("first advance: %v", err)
	}

	// a second writer still holding the nil token loses
	if err := repo.AdvanceLastProcessed(ctx, tmpl.ID, nil, &first); !errors.Is(err, ErrStaleTemplate) {
		t.Fatalf("stale advance = %v, want ErrStaleTemplate", err)
	}

	got, _ := repo.GetTemplate(ctx, tmpl.ID)
	if got.LastProcessedAt == nil || !got.LastProcessedAt.Equal(first) {
		t.Fatalf("LastProcessedAt = %v, want %v", got.LastProcessedAt, first)
	}

	// the value read back is a valid token for the next advance
	second := first.AddDate(0, 1, 0)
	if err := repo.AdvanceLastProcessed(ctx, tmpl.ID, got.LastProcessedAt, &second); err != nil {
		t.Fatalf("second advance: %v", err)
	}

	// restoring to nil is allowed with the current token
	if err := repo.AdvanceLastProcessed(ctx, tmpl.ID, &second, nil); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ = repo.GetTemplate(ctx, tmpl.ID)
	if got.LastProcessedAt != nil {
		t.Errorf("LastProcessedAt = %v, want nil after restore", got.LastProcessedAt)
	}

	if err := repo.AdvanceLastProcessed(ctx, uuid.New(), nil, &first); !errors.Is(err, ErrNotFound) {
		t.Errorf("advance unknown = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDeactivateUnknown(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.DeactivateTemplate(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeactivateTemplate(unknown) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tmpl, _ := repo.CreateTemplate(ctx, sampleTemplate(core.NewDate(2025, 1, 1), core.Monthly))
	for _, d := range []time.Time{core.NewDate(2025, 2, 1), core.NewDate(2025, 3, 1), core.NewDate(2025, 4, 1)} {
		if _, err := repo.InsertTransaction(ctx, tmpl.Instance(d)); err != nil {
			t.Fatalf("InsertTransaction: %v", err)
		}
	}

	all, err := repo.ListTransactions(ctx, TransactionFilter{AccountID: tmpl.AccountID})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(all))
	}
	for _, tx := range all {
		if tx.IsRecurring {
			t.Error("listed a template as a transaction")
		}
	}

	ranged, _ := repo.ListTransactions(ctx, TransactionFilter{From: core.NewDate(2025, 2, 15), To: core.NewDate(2025, 3, 31)})
	if len(ranged) != 1 || !ranged[0].Date.Equal(core.NewDate(2025, 3, 1)) {
		t.Errorf("date range filter returned %v", ranged)
	}

	none, _ := repo.ListTransactions(ctx, TransactionFilter{UserID: uuid.New()})
	if len(none) != 0 {
		t.Errorf("user filter returned %d rows", len(none))
	}
}
