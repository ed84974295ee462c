package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/core"

	_ "modernc.org/sqlite"
)

// timestampLayout is how last_processed_at is stored. CAS updates compare the
// formatted text, so every write must go through formatTimestamp.
const timestampLayout = time.RFC3339Nano

const transactionColumns = `id, user_id, account_id, category_id, transfer_account_id, type, amount,
	description, notes, tags, status, date, is_recurring, recurrence_frequency,
	recurrence_end_date, last_processed_at, is_active`

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListActiveRecurring implements TemplateStore
func (r *SQLiteRepository) ListActiveRecurring(ctx context.Context) ([]core.Template, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_recurring = 1 AND is_active = 1
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
		tmpl, err := rec.template()
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// GetTemplate returns a single recurring template by id
func (r *SQLiteRepository) GetTemplate(ctx context.Context, id uuid.UUID) (core.Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE id = ? AND is_recurring = 1`, id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Template{}, ErrNotFound
	}
	if err != nil {
		return core.Template{}, err
	}
	return rec.template()
}

// CreateTemplate stores a new recurring template
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.Template) (core.Template, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return core.Template{}, err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO transactions (
			id, user_id, account_id, category_id, transfer_account_id, type, amount,
			description, notes, tags, status, date, is_recurring, recurrence_frequency,
			recurrence_end_date, last_processed_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		t.ID.String(), t.UserID.String(), t.AccountID.String(),
		nullableID(t.CategoryID), nullableID(t.TransferAccountID),
		string(t.Type), t.Amount.StringFixed(2),
		t.Description, t.Notes, tags, string(t.Status),
		t.Date.Format(core.DateLayout),
		string(t.Frequency), nullableDate(t.EndDate), nullableTimestamp(t.LastProcessedAt),
		t.IsActive,
	)
	if err != nil {
		return core.Template{}, fmt.Errorf("insert template: %w", err)
	}

	slog.DebugContext(ctx, "Recurring template saved to SQLite",
		"id", t.ID,
		"frequency", t.Frequency,
		"date", t.Date.Format(core.DateLayout))

	return t, nil
}

// InsertTransaction implements TransactionWriter
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return core.Transaction{}, err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO transactions (
			id, user_id, account_id, category_id, transfer_account_id, type, amount,
			description, notes, tags, status, date, is_recurring, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1)`,
		t.ID.String(), t.UserID.String(), t.AccountID.String(),
		nullableID(t.CategoryID), nullableID(t.TransferAccountID),
		string(t.Type), t.Amount.StringFixed(2),
		t.Description, t.Notes, tags, string(t.Status),
		t.Date.Format(core.DateLayout),
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"account_id", t.AccountID,
		"amount", t.Amount.StringFixed(2),
		"date", t.Date.Format(core.DateLayout))

	t.IsRecurring = false
	return t, nil
}

// AdvanceLastProcessed implements TemplateStore
func (r *SQLiteRepository) AdvanceLastProcessed(ctx context.Context, id uuid.UUID, expected, next *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions
		SET last_processed_at = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ? AND is_recurring = 1 AND last_processed_at IS ?`,
		nullableTimestamp(next), id.String(), nullableTimestamp(expected))
	if err != nil {
		return fmt.Errorf("update last processed: %w", err)
	}
	return r.checkConditional(ctx, res, id)
}

// DeactivateTemplate implements TemplateStore
func (r *SQLiteRepository) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions
		SET is_active = 0, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ? AND is_recurring = 1`, id.String())
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	slog.InfoContext(ctx, "Recurring template deactivated", "id", id)
	return nil
}

// checkConditional distinguishes a missing template from a lost CAS.
func (r *SQLiteRepository) checkConditional(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM transactions WHERE id = ? AND is_recurring = 1`, id.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template exists: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStaleTemplate
}

// ListTransactions implements TransactionLister
func (r *SQLiteRepository) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where = []string{"is_recurring = 0"}
		args  []any
	)
	if f.UserID != uuid.Nil {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID.String())
	}
	if f.AccountID != uuid.Nil {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID.String())
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.Format(core.DateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.Format(core.DateLayout))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE `+strings.Join(where, " AND ")+`
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
		t, err := rec.transaction()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// record is the raw row shape shared by templates and instances.
type record struct {
	ID, UserID, AccountID          string
	CategoryID, TransferAccountID  sql.NullString
	Type                           string
	Amount                         decimal.Decimal
	Description, Notes, Tags       string
	Status, Date                   string
	IsRecurring                    bool
	Frequency, EndDate, LastProcAt sql.NullString
	IsActive                       bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (record, error) {
	var rec record
	err := s.Scan(&rec.ID, &rec.UserID, &rec.AccountID, &rec.CategoryID, &rec.TransferAccountID,
		&rec.Type, &rec.Amount, &rec.Description, &rec.Notes, &rec.Tags, &rec.Status, &rec.Date,
		&rec.IsRecurring, &rec.Frequency, &rec.EndDate, &rec.LastProcAt, &rec.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("scan transaction row: %w", err)
	}
	return rec, nil
}

func (rec record) transaction() (core.Transaction, error) {
	var (
		t   core.Transaction
		err error
	)
	if t.ID, err = uuid.Parse(rec.ID); err != nil {
		return t, fmt.Errorf("parse id %q: %w", rec.ID, err)
	}
	if t.UserID, err = uuid.Parse(rec.UserID); err != nil {
		return t, fmt.Errorf("parse user id of %s: %w", rec.ID, err)
	}
	if t.AccountID, err = uuid.Parse(rec.AccountID); err != nil {
		return t, fmt.Errorf("parse account id of %s: %w", rec.ID, err)
	}
	if t.CategoryID, err = parseNullableID(rec.CategoryID); err != nil {
		return t, fmt.Errorf("parse category id of %s: %w", rec.ID, err)
	}
	if t.TransferAccountID, err = parseNullableID(rec.TransferAccountID); err != nil {
		return t, fmt.Errorf("parse transfer account id of %s: %w", rec.ID, err)
	}
	if t.Date, err = core.ParseDate(rec.Date); err != nil {
		return t, err
	}
	if t.Tags, err = decodeTags(rec.Tags); err != nil {
		return t, fmt.Errorf("decode tags of %s: %w", rec.ID, err)
	}
	t.Type = core.TransactionType(rec.Type)
	t.Amount = rec.Amount
	t.Description = rec.Description
	t.Notes = rec.Notes
	t.Status = core.TransactionStatus(rec.Status)
	t.IsRecurring = rec.IsRecurring
	return t, nil
}

func (rec record) template() (core.Template, error) {
	t, err := rec.transaction()
	if err != nil {
		return core.Template{}, err
	}
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

	freq, err := core.ParseFrequency(rec.Frequency.String)
	if err != nil {
		slog.Warn("Template has unknown frequency, processing it monthly",
			"id", rec.ID, "frequency", rec.Frequency.String)
	}
	tmpl.Frequency = freq

	if rec.EndDate.Valid && rec.EndDate.String != "" {
		end, err := core.ParseDate(rec.EndDate.String)
		if err != nil {
			return core.Template{}, fmt.Errorf("end date of %s: %w", rec.ID, err)
		}
		tmpl.EndDate = &end
	}
	if rec.LastProcAt.Valid && rec.LastProcAt.String != "" {
		last, err := time.Parse(timestampLayout, rec.LastProcAt.String)
		if err != nil {
			return core.Template{}, fmt.Errorf("last processed at of %s: %w", rec.ID, err)
		}
		tmpl.LastProcessedAt = &last
	}
	return tmpl, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullableID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(core.DateLayout)
}

func nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
