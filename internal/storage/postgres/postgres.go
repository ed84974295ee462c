// Package postgres is the hosted-database implementation of storage.Store,
// built on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/storage"
)

const columns = `id, user_id, account_id, category_id, transfer_account_id, type, amount,
	description, notes, tags, status, date, is_recurring, recurrence_frequency,
	recurrence_end_date, last_processed_at, is_active`

type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Repository)(nil)

// New connects to databaseURL, runs migrations and returns the repository.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) ListActiveRecurring(ctx context.Context) ([]core.Template, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+`
		FROM transactions
		WHERE is_recurring AND is_active
		ORDER BY date ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query active recurring templates: %w", err)
	}
	defer rows.Close()

	var templates []core.Template
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, rec.template())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (core.Template, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM transactions WHERE id = $1 AND is_recurring`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Template{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Template{}, err
	}
	return rec.template(), nil
}

func (r *Repository) CreateTemplate(ctx context.Context, t core.Template) (core.Template, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.LastProcessedAt = truncate(t.LastProcessedAt)
	freq := string(t.Frequency)
	_, err := r.pool.Exec(ctx, `INSERT INTO transactions (
			id, user_id, account_id, category_id, transfer_account_id, type, amount,
			description, notes, tags, status, date, is_recurring, recurrence_frequency,
			recurrence_end_date, last_processed_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $14, $15, $16)`,
		t.ID, t.UserID, t.AccountID, t.CategoryID, t.TransferAccountID,
		string(t.Type), t.Amount, t.Description, t.Notes, tagsOrEmpty(t.Tags), string(t.Status),
		t.Date, &freq, t.EndDate, t.LastProcessedAt, t.IsActive,
	)
	if err != nil {
		return core.Template{}, fmt.Errorf("insert template: %w", err)
	}
	return t, nil
}

func (r *Repository) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO transactions (
			id, user_id, account_id, category_id, transfer_account_id, type, amount,
			description, notes, tags, status, date, is_recurring, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, TRUE)`,
		t.ID, t.UserID, t.AccountID, t.CategoryID, t.TransferAccountID,
		string(t.Type), t.Amount, t.Description, t.Notes, tagsOrEmpty(t.Tags), string(t.Status), t.Date,
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to Postgres",
		"id", t.ID,
		"account_id", t.AccountID,
		"amount", t.Amount.StringFixed(2),
		"date", t.Date.Format(core.DateLayout))

	t.IsRecurring = false
	return t, nil
}

// AdvanceLastProcessed compares at microsecond precision, the resolution of
// TIMESTAMPTZ.
func (r *Repository) AdvanceLastProcessed(ctx context.Context, id uuid.UUID, expected, next *time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions
		SET last_processed_at = $1, updated_at = NOW()
		WHERE id = $2 AND is_recurring AND last_processed_at IS NOT DISTINCT FROM $3::timestamptz`,
		truncate(next), id, truncate(expected))
	if err != nil {
		return fmt.Errorf("update last processed: %w", err)
	}
	return r.checkConditional(ctx, tag, id)
}

func (r *Repository) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_recurring`, id)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	slog.InfoContext(ctx, "Recurring template deactivated", "id", id)
	return nil
}

func (r *Repository) checkConditional(ctx context.Context, tag pgconn.CommandTag, id uuid.UUID) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1 AND is_recurring)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrStaleTemplate
}

func (r *Repository) ListTransactions(ctx context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	var (
		where = []string{"NOT is_recurring"}
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+" $"+strconv.Itoa(len(args)))
	}
	if f.UserID != uuid.Nil {
		add("user_id =", f.UserID)
	}
	if f.AccountID != uuid.Nil {
		add("account_id =", f.AccountID)
	}
	if !f.From.IsZero() {
		add("date >=", core.DateOnly(f.From))
	}
	if !f.To.IsZero() {
		add("date <=", core.DateOnly(f.To))
	}

	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM transactions
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY date ASC, created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.transaction())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

type record struct {
	ID, UserID, AccountID         uuid.UUID
	CategoryID, TransferAccountID *uuid.UUID
	Type                          string
	Amount                        decimal.Decimal
	Description, Notes            string
	Tags                          []string
	Status                        string
	Date                          time.Time
	IsRecurring                   bool
	Frequency                     *string
	EndDate, LastProcessedAt      *time.Time
	IsActive                      bool
}

func scanRecord(row pgx.Row) (record, error) {
	var rec record
	err := row.Scan(&rec.ID, &rec.UserID, &rec.AccountID, &rec.CategoryID, &rec.TransferAccountID,
		&rec.Type, &rec.Amount, &rec.Description, &rec.Notes, &rec.Tags, &rec.Status, &rec.Date,
		&rec.IsRecurring, &rec.Frequency, &rec.EndDate, &rec.LastProcessedAt, &rec.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("scan transaction row: %w", err)
	}
	return rec, nil
}

func (rec record) transaction() core.Transaction {
	var tags []string
	if len(rec.Tags) > 0 {
		tags = rec.Tags
	}
	return core.Transaction{
		ID:                rec.ID,
		UserID:            rec.UserID,
		AccountID:         rec.AccountID,
		CategoryID:        rec.CategoryID,
		TransferAccountID: rec.TransferAccountID,
		Type:              core.TransactionType(rec.Type),
		Amount:            rec.Amount,
		Description:       rec.Description,
		Notes:             rec.Notes,
		Tags:              tags,
		Status:            core.TransactionStatus(rec.Status),
		Date:              core.DateOnly(rec.Date),
		IsRecurring:       rec.IsRecurring,
	}
}

func (rec record) template() core.Template {
	t := rec.transaction()
	tmpl := core.Template{
		ID:                t.ID,
		UserID:            t.UserID,
		AccountID:         t.AccountID,
		CategoryID:        t.CategoryID,
		TransferAccountID: t.TransferAccountID,
		Type:              t.Type,
		Amount:            t.Amount,
		Description:       t.Description,
		Notes:             t.Notes,
		Tags:              t.Tags,
		Status:            t.Status,
		Date:              t.Date,
		IsActive:          rec.IsActive,
	}

	var raw string
	if rec.Frequency != nil {
		raw = *rec.Frequency
	}
	freq, err := core.ParseFrequency(raw)
	if err != nil {
		slog.Warn("Template has unknown frequency, processing it monthly", "id", rec.ID, "frequency", raw)
	}
	tmpl.Frequency = freq

	if rec.EndDate != nil {
		end := core.DateOnly(*rec.EndDate)
		tmpl.EndDate = &end
	}
	if rec.LastProcessedAt != nil {
		last := rec.LastProcessedAt.UTC()
		tmpl.LastProcessedAt = &last
	}
	return tmpl
}

func truncate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
