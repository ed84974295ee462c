package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func validTemplate() Template {
	cat := uuid.New()
	return Template{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		CategoryID:  &cat,
		Type:        Expense,
		Amount:      decimal.RequireFromString("49.90"),
		Description: "Gym membership",
		Notes:       "auto",
		Tags:        []string{"health", "fixed"},
		Status:      StatusCompleted,
		Date:        NewDate(2025, 1, 15),
		Frequency:   Monthly,
		IsActive:    true,
	}
}

func TestTemplateValidate(t *testing.T) {
	if err := validTemplate().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	end := NewDate(2024, 12, 31)
	tests := []struct {
		name   string
		mutate func(*Template)
		want   error
	}{
		{"missing account", func(tp *Template) { tp.AccountID = uuid.Nil }, ErrMissingAccount},
		{"bad type", func(tp *Template) { tp.Type = "gift" }, ErrInvalidType},
		{"bad status", func(tp *Template) { tp.Status = "" }, ErrInvalidStatus},
		{"zero amount", func(tp *Template) { tp.Amount = decimal.Zero }, ErrInvalidAmount},
		{"blank description", func(tp *Template) { tp.Description = "  " }, ErrEmptyDescription},
		{"long description", func(tp *Template) { tp.Description = strings.Repeat("x", 201) }, ErrDescriptionTooLong},
		{"zero date", func(tp *Template) { tp.Date = time.Time{} }, ErrZeroDate},
		{"unknown frequency", func(tp *Template) { tp.Frequency = "hourly" }, ErrUnknownFrequency},
		{"end before anchor", func(tp *Template) { tp.EndDate = &end }, ErrEndBeforeStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := validTemplate()
			tt.mutate(&tp)
			if err := tp.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTemplateAnchor(t *testing.T) {
	tp := validTemplate()
	if got := tp.Anchor(); !got.Equal(tp.Date) {
		t.Errorf("Anchor() without last processed = %v, want %v", got, tp.Date)
	}

	last := time.Date(2025, 3, 2, 8, 30, 0, 0, time.UTC)
	tp.LastProcessedAt = &last
	if got := tp.Anchor(); !got.Equal(last) {
		t.Errorf("Anchor() = %v, want %v", got, last)
	}
}

func TestTemplateExpiredAt(t *testing.T) {
	tp := validTemplate()
	if tp.ExpiredAt(NewDate(2099, 1, 1)) {
		t.Fatal("template without end date must never expire")
	}

	end := NewDate(2025, 1, 1)
	tp.EndDate = &end
	tests := []struct {
		asOf time.Time
		want bool
	}{
		{time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC), false}, // end date is inclusive
		{NewDate(2025, 1, 2), true},
		{NewDate(2025, 2, 1), true},
	}
	for _, tt := range tests {
		if got := tp.ExpiredAt(tt.asOf); got != tt.want {
			t.Errorf("ExpiredAt(%v) = %v, want %v", tt.asOf, got, tt.want)
		}
	}
}

func TestTemplateInstance(t *testing.T) {
	tp := validTemplate()
	transfer := uuid.New()
	tp.TransferAccountID = &transfer
	due := NewDate(2025, 2, 15)

	got := tp.Instance(due)

	if got.IsRecurring {
		t.Error("instance must not be recurring")
	}
	if !got.Date.Equal(due) {
		t.Errorf("Date = %v, want %v", got.Date, due)
	}
	if got.ID != uuid.Nil {
		t.Error("instance id is assigned by the store")
	}
	if got.UserID != tp.UserID || got.AccountID != tp.AccountID {
		t.Error("ownership not copied")
	}
	if *got.CategoryID != *tp.CategoryID || *got.TransferAccountID != transfer {
		t.Error("category or transfer account not copied")
	}
	if got.Type != tp.Type || !got.Amount.Equal(tp.Amount) || got.Status != tp.Status {
		t.Error("financial fields not copied")
	}
	if got.Description != tp.Description || got.Notes != tp.Notes {
		t.Error("description or notes not copied")
	}
	if len(got.Tags) != 2 || got.Tags[0] != "health" {
		t.Errorf("Tags = %v", got.Tags)
	}

	// The copy must not alias the template.
	got.Tags[0] = "changed"
	*got.CategoryID = uuid.Nil
	if tp.Tags[0] != "health" || *tp.CategoryID == uuid.Nil {
		t.Error("instance aliases template state")
	}
}
