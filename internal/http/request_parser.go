package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"moneta/internal/core"
	"moneta/internal/storage"
)

const maxBodyBytes = 64 << 10

// parseAsOf accepts an empty value (now), a YYYY-MM-DD date (midnight UTC)
// or an RFC 3339 timestamp.
func parseAsOf(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(core.DateLayout, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid as_of %q: want YYYY-MM-DD or RFC 3339", v)
}

// parseTransactionFilter reads user_id, account_id, from and to. Dates are
// YYYY-MM-DD and inclusive.
func parseTransactionFilter(q url.Values) (storage.TransactionFilter, error) {
	var f storage.TransactionFilter
	for _, p := range []struct {
		name string
		dst  *uuid.UUID
	}{{"user_id", &f.UserID}, {"account_id", &f.AccountID}} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q", p.name, v)
		}
		*p.dst = id
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		d, err := time.Parse(core.DateLayout, v)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", p.name, v)
		}
		*p.dst = d
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to must not be before from")
	}
	return f, nil
}

// templateRequest is the JSON body of POST /api/recurring.
type templateRequest struct {
	UserID            uuid.UUID  `json:"user_id"`
	AccountID         uuid.UUID  `json:"account_id"`
	CategoryID        *uuid.UUID `json:"category_id"`
	TransferAccountID *uuid.UUID `json:"transfer_account_id"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	Description       string     `json:"description"`
	Notes             string     `json:"notes"`
	Tags              []string   `json:"tags"`
	Status            string     `json:"status"`
	Date              string     `json:"date"`
	Frequency         string     `json:"frequency"`
	EndDate           string     `json:"end_date"`
}

func decodeTemplateRequest(w http.ResponseWriter, r *http.Request) (templateRequest, error) {
	var req templateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// template converts the request into a validated active template.
func (req templateRequest) template() (core.Template, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Template{}, err
	}
	freq, err := core.ParseFrequency(req.Frequency)
	if err != nil {
		return core.Template{}, err
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Template{}, errors.Join(core.ErrZeroDate, err)
	}

	status := core.TransactionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		status = core.StatusCompleted
	}

	t := core.Template{
		UserID:            req.UserID,
		AccountID:         req.AccountID,
		CategoryID:        req.CategoryID,
		TransferAccountID: req.TransferAccountID,
		Type:              core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		Amount:            amount,
		Description:       sanitizeInput(req.Description),
		Notes:             sanitizeInput(req.Notes),
		Tags:              req.Tags,
		Status:            status,
		Date:              date,
		Frequency:         freq,
		IsActive:          true,
	}
	if strings.TrimSpace(req.EndDate) != "" {
		end, err := core.ParseDate(req.EndDate)
		if err != nil {
			return core.Template{}, err
		}
		t.EndDate = &end
	}

	if err := t.Validate(); err != nil {
		return core.Template{}, err
	}
	return t, nil
}

// sanitizeInput drops control characters other than tab and newlines and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
