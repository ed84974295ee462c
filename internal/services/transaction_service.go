package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/storage"
)

// EventPublisher announces generated transactions.
type EventPublisher interface {
	PublishTransactionGenerated(ctx context.Context, msg *amqp.TransactionGeneratedMessage) error
}

// TransactionService creates concrete transactions through the store and
// publishes a generated event for each one.
type TransactionService struct {
	store     storage.TransactionWriter
	publisher EventPublisher
}

// NewTransactionService returns a service writing to store. publisher may be nil.
func NewTransactionService(store storage.TransactionWriter, publisher EventPublisher) *TransactionService {
	return &TransactionService{
		store:     store,
		publisher: publisher,
	}
}

// CreateTransaction saves t and publishes a generated message referencing
// templateID. A publish failure is logged and does not fail the call.
func (s *TransactionService) CreateTransaction(ctx context.Context, t core.Transaction, templateID uuid.UUID) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}

	saved, err := s.store.InsertTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	if err := s.publishGenerated(ctx, saved, templateID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction generated message",
			"transaction_id", saved.ID,
			"template_id", templateID,
			"error", err)
	}

	return saved, nil
}

func (s *TransactionService) publishGenerated(ctx context.Context, t core.Transaction, templateID uuid.UUID) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Event publisher not configured, skipping generated message")
		return nil
	}
	return s.publisher.PublishTransactionGenerated(ctx, amqp.NewTransactionGeneratedMessage(t, templateID))
}
