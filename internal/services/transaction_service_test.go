package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/storage"
	"moneta/internal/storage/memory"
)

type recordingPublisher struct {
	messages []*amqp.TransactionGeneratedMessage
	err      error
}

func (p *recordingPublisher) PublishTransactionGenerated(_ context.Context, msg *amqp.TransactionGeneratedMessage) error {
	p.messages = append(p.messages, msg)
	return p.err
}

type failingWriter struct{}

func (failingWriter) InsertTransaction(context.Context, core.Transaction) (core.Transaction, error) {
	return core.Transaction{}, errors.New("disk full")
}

func sampleTransaction() core.Transaction {
	return core.Transaction{
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		Type:        core.Income,
		Amount:      decimal.RequireFromString("2500.00"),
		Description: "Salary",
		Status:      core.StatusCompleted,
		Date:        core.NewDate(2025, 2, 27),
	}
}

func TestTransactionService_CreateTransaction(t *testing.T) {
	ctx := context.Background()
	templateID := uuid.New()

	t.Run("saves and publishes", func(t *testing.T) {
		store := memory.New()
		pub := &recordingPublisher{}
		svc := NewTransactionService(store, pub)

		saved, err := svc.CreateTransaction(ctx, sampleTransaction(), templateID)
		if err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		if saved.ID == uuid.Nil {
			t.Error("expected an assigned id")
		}
		if len(pub.messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(pub.messages))
		}
		msg := pub.messages[0]
		if msg.TransactionID != saved.ID || msg.TemplateID != templateID || msg.Date != "2025-02-27" {
			t.Errorf("unexpected message: %+v", msg)
		}
	})

	t.Run("publish failure is not fatal", func(t *testing.T) {
		store := memory.New()
		svc := NewTransactionService(store, &recordingPublisher{err: errors.New("broker down")})

		if _, err := svc.CreateTransaction(ctx, sampleTransaction(), templateID); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		txs, _ := store.ListTransactions(ctx, storage.TransactionFilter{})
		if len(txs) != 1 {
			t.Errorf("expected saved transaction, got %d", len(txs))
		}
	})

	t.Run("nil publisher", func(t *testing.T) {
		svc := NewTransactionService(memory.New(), nil)
		if _, err := svc.CreateTransaction(ctx, sampleTransaction(), templateID); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	})

	t.Run("invalid transaction", func(t *testing.T) {
		pub := &recordingPublisher{}
		svc := NewTransactionService(memory.New(), pub)
		tx := sampleTransaction()
		tx.AccountID = uuid.Nil

		_, err := svc.CreateTransaction(ctx, tx, templateID)
		if !errors.Is(err, core.ErrMissingAccount) {
			t.Fatalf("expected ErrMissingAccount, got %v", err)
		}
		if len(pub.messages) != 0 {
			t.Error("published a message for a rejected transaction")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		pub := &recordingPublisher{}
		svc := NewTransactionService(failingWriter{}, pub)
		if _, err := svc.CreateTransaction(ctx, sampleTransaction(), templateID); err == nil {
			t.Fatal("expected error")
		}
		if len(pub.messages) != 0 {
			t.Error("published a message for an unsaved transaction")
		}
	})
}
