package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/storage"
)

func tmpl(date time.Time) core.Template {
	return core.Template{
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		Type:        core.Income,
		Amount:      decimal.NewFromInt(2500),
		Description: "Salary",
		Status:      core.StatusCompleted,
		Date:        date,
		Frequency:   core.Monthly,
		IsActive:    true,
	}
}

func TestMemoryStoreListOrdersAndSkipsInactive(t *testing.T) {
	ctx := context.Background()
	s := New()
	b, _ := s.CreateTemplate(ctx, tmpl(core.NewDate(2025, 3, 1)))
	a, _ := s.CreateTemplate(ctx, tmpl(core.NewDate(2025, 1, 1)))
	c, _ := s.CreateTemplate(ctx, tmpl(core.NewDate(2025, 2, 1)))
	if err := s.DeactivateTemplate(ctx, c.ID); err != nil {
		t.Fatalf("DeactivateTemplate: %v", err)
	}

	got, err := s.ListActiveRecurring(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("unexpected list: %v err=%v", got, err)
	}
	if got[0].ID != a.ID || got[1].ID != b.ID {
		t.Errorf("unexpected order: %v %v", got[0].ID, got[1].ID)
	}
}

func TestMemoryStoreAdvanceIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	tp, _ := s.CreateTemplate(ctx, tmpl(core.NewDate(2025, 1, 1)))

	now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	if err := s.AdvanceLastProcessed(ctx, tp.ID, nil, &now); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.AdvanceLastProcessed(ctx, tp.ID, nil, &now); !errors.Is(err, storage.ErrStaleTemplate) {
		t.Fatalf("expected ErrStaleTemplate, got %v", err)
	}
	if err := s.AdvanceLastProcessed(ctx, uuid.New(), nil, &now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// mutating the caller's time must not leak into the store
	now = now.AddDate(1, 0, 0)
	got, _ := s.GetTemplate(ctx, tp.ID)
	if got.LastProcessedAt.Year() != 2025 {
		t.Errorf("store aliases caller time: %v", got.LastProcessedAt)
	}
}

func TestMemoryStoreInsertAndList(t *testing.T) {
	ctx := context.Background()
	s := New()
	tp := tmpl(core.NewDate(2025, 1, 1))

	if _, err := s.InsertTransaction(ctx, core.Transaction{}); err == nil {
		t.Fatal("expected validation error")
	}

	first, err := s.InsertTransaction(ctx, tp.Instance(core.NewDate(2025, 2, 1)))
	if err != nil || first.ID == uuid.Nil {
		t.Fatalf("unexpected insert: %+v err=%v", first, err)
	}
	_, _ = s.InsertTransaction(ctx, tp.Instance(core.NewDate(2025, 1, 15)))

	got, _ := s.ListTransactions(ctx, storage.TransactionFilter{AccountID: tp.AccountID})
	if len(got) != 2 || !got[0].Date.Equal(core.NewDate(2025, 1, 15)) {
		t.Errorf("unexpected list: %v", got)
	}
}
