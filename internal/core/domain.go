package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusCancelled TransactionStatus = "cancelled"
)

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

type (
	TransactionType   string
	TransactionStatus string

	// Transaction is a concrete, one-off ledger entry.
	Transaction struct {
		ID                uuid.UUID
		UserID            uuid.UUID
		AccountID         uuid.UUID
		CategoryID        *uuid.UUID
		TransferAccountID *uuid.UUID
		Type              TransactionType
		Amount            decimal.Decimal
		Description       string
		Notes             string
		Tags              []string
		Status            TransactionStatus
		Date              time.Time
		IsRecurring       bool
	}

	// Template is a transaction flagged as recurring. It periodically
	// materializes concrete Transaction instances.
	Template struct {
		ID                uuid.UUID
		UserID            uuid.UUID
		AccountID         uuid.UUID
		CategoryID        *uuid.UUID
		TransferAccountID *uuid.UUID
		Type              TransactionType
		Amount            decimal.Decimal
		Description       string
		Notes             string
		Tags              []string
		Status            TransactionStatus

		Date            time.Time  // anchor date
		Frequency       Frequency
		EndDate         *time.Time // inclusive, date only
		LastProcessedAt *time.Time
		IsActive        bool
	}
)

var (
	ErrMissingAccount     = errors.New("missing account")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidStatus      = errors.New("invalid transaction status")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrZeroDate           = errors.New("date cannot be zero")
	ErrEndBeforeStart     = errors.New("end date must not be before the anchor date")
)

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate creates a date from year, month, day
func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func validateCommon(accountID uuid.UUID, typ TransactionType, status TransactionStatus, amount decimal.Decimal, desc string, date time.Time) error {
	if accountID == uuid.Nil {
		return ErrMissingAccount
	}
	if !typ.Valid() {
		return ErrInvalidType
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(desc)) == 0 {
		return ErrEmptyDescription
	}
	if len(desc) > 200 {
		return ErrDescriptionTooLong
	}
	if date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

func (t Transaction) Validate() error {
	return validateCommon(t.AccountID, t.Type, t.Status, t.Amount, t.Description, t.Date)
}

func (t Template) Validate() error {
	if err := validateCommon(t.AccountID, t.Type, t.Status, t.Amount, t.Description, t.Date); err != nil {
		return err
	}
	if !t.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, t.Frequency)
	}
	if t.EndDate != nil && DateOnly(*t.EndDate).Before(DateOnly(t.Date)) {
		return ErrEndBeforeStart
	}
	return nil
}

// Anchor returns the time the next occurrence is computed from.
func (t Template) Anchor() time.Time {
	if t.LastProcessedAt != nil && !t.LastProcessedAt.IsZero() {
		return *t.LastProcessedAt
	}
	return t.Date
}

// ExpiredAt reports whether asOf falls on a calendar day after the end date.
func (t Template) ExpiredAt(asOf time.Time) bool {
	if t.EndDate == nil {
		return false
	}
	return DateOnly(asOf.UTC()).After(DateOnly(*t.EndDate))
}

// NextDue is the anchor advanced by exactly one period.
func (t Template) NextDue() time.Time {
	return t.Frequency.Next(t.Anchor())
}

// Instance returns a non-recurring transaction copying the template's
// financial fields, dated on due.
func (t Template) Instance(due time.Time) Transaction {
	var tags []string
	if len(t.Tags) > 0 {
		tags = append([]string(nil), t.Tags...)
	}
	return Transaction{
		UserID:            t.UserID,
		AccountID:         t.AccountID,
		CategoryID:        cloneID(t.CategoryID),
		TransferAccountID: cloneID(t.TransferAccountID),
		Type:              t.Type,
		Amount:            t.Amount,
		Description:       t.Description,
		Notes:             t.Notes,
		Tags:              tags,
		Status:            t.Status,
		Date:              due,
		IsRecurring:       false,
	}
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
