package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
)

type summaryResponse struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	AsOf      string `json:"as_of"`
}

func newSummaryResponse(s core.RunSummary) summaryResponse {
	return summaryResponse{
		Processed: s.Processed,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Total:     s.Total,
		AsOf:      s.AsOf.UTC().Format(time.RFC3339),
	}
}

type templateResponse struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	AccountID         uuid.UUID  `json:"account_id"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty"`
	TransferAccountID *uuid.UUID `json:"transfer_account_id,omitempty"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	Description       string     `json:"description"`
	Notes             string     `json:"notes,omitempty"`
	Tags              []string   `json:"tags"`
	Status            string     `json:"status"`
	Date              string     `json:"date"`
	Frequency         string     `json:"frequency"`
	EndDate           string     `json:"end_date,omitempty"`
	LastProcessedAt   *time.Time `json:"last_processed_at,omitempty"`
	NextDue           time.Time  `json:"next_due"`
	IsActive          bool       `json:"is_active"`
}

func newTemplateResponse(t core.Template) templateResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	resp := templateResponse{
		ID:                t.ID,
		UserID:            t.UserID,
		AccountID:         t.AccountID,
		CategoryID:        t.CategoryID,
		TransferAccountID: t.TransferAccountID,
		Type:              string(t.Type),
		Amount:            core.FormatAmount(t.Amount),
		Description:       t.Description,
		Notes:             t.Notes,
		Tags:              tags,
		Status:            string(t.Status),
		Date:              t.Date.Format(core.DateLayout),
		Frequency:         string(t.Frequency),
		LastProcessedAt:   t.LastProcessedAt,
		NextDue:           t.NextDue(),
		IsActive:          t.IsActive,
	}
	if t.EndDate != nil {
		resp.EndDate = t.EndDate.Format(core.DateLayout)
	}
	return resp
}

type transactionResponse struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	AccountID         uuid.UUID  `json:"account_id"`
	CategoryID        *uuid.UUID `json:"category_id,omitempty"`
	TransferAccountID *uuid.UUID `json:"transfer_account_id,omitempty"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	Description       string     `json:"description"`
	Notes             string     `json:"notes,omitempty"`
	Tags              []string   `json:"tags"`
	Status            string     `json:"status"`
	Date              string     `json:"date"`
}

func newTransactionResponse(t core.Transaction) transactionResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return transactionResponse{
		ID:                t.ID,
		UserID:            t.UserID,
		AccountID:         t.AccountID,
		CategoryID:        t.CategoryID,
		TransferAccountID: t.TransferAccountID,
		Type:              string(t.Type),
		Amount:            core.FormatAmount(t.Amount),
		Description:       t.Description,
		Notes:             t.Notes,
		Tags:              tags,
		Status:            string(t.Status),
		Date:              t.Date.Format(core.DateLayout),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
