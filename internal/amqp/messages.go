package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

// TransactionGeneratedMessage announces a transaction materialized from a
// recurring template. Consumers fetch the full record by TransactionID.
type TransactionGeneratedMessage struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	TemplateID    uuid.UUID       `json:"template_id"`
	UserID        uuid.UUID       `json:"user_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewTransactionGeneratedMessage builds the event for t, generated from templateID.
func NewTransactionGeneratedMessage(t core.Transaction, templateID uuid.UUID) *TransactionGeneratedMessage {
	return &TransactionGeneratedMessage{
		TransactionID: t.ID,
		TemplateID:    templateID,
		UserID:        t.UserID,
		AccountID:     t.AccountID,
		Type:          string(t.Type),
		Amount:        t.Amount,
		Date:          t.Date.Format(core.DateLayout),
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionGeneratedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
