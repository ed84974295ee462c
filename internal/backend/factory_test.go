package backend

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"moneta/internal/amqp"
	"moneta/internal/config"
	"moneta/internal/log"
	"moneta/internal/services"
	"moneta/internal/storage"
)

func quietFactory() *DefaultFactory {
	return NewFactory(log.New(log.Config{Output: io.Discard}))
}

type nopPublisher struct{}

func (nopPublisher) PublishTransactionGenerated(context.Context, *amqp.TransactionGeneratedMessage) error {
	return nil
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "moneta.db")}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"unknown", Config{Type: "sheets"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := quietFactory().CreateBackend(ctx, tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateBackend: %v", err)
			}
			defer res.Cleanup()

			if res.Store == nil || res.Transactions == nil {
				t.Fatalf("incomplete result: %+v", res)
			}
			if err := res.Store.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
			if _, err := res.Store.ListTransactions(ctx, storage.TransactionFilter{}); err != nil {
				t.Errorf("ListTransactions: %v", err)
			}
		})
	}
}

func TestCreateBackendAMQP(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "moneta", AMQPQueue: "generated"}

	t.Run("broker unavailable keeps backend", func(t *testing.T) {
		f := quietFactory()
		f.dialer = func(string, string, string) (services.EventPublisher, func() error, error) {
			return nil, nil, errors.New("connection refused")
		}
		res, err := f.CreateBackend(ctx, cfg)
		if err != nil {
			t.Fatalf("CreateBackend: %v", err)
		}
		if err := res.Cleanup(); err != nil {
			t.Errorf("Cleanup: %v", err)
		}
	})

	t.Run("broker closed on cleanup", func(t *testing.T) {
		closed := false
		f := quietFactory()
		f.dialer = func(string, string, string) (services.EventPublisher, func() error, error) {
			return nopPublisher{}, func() error { closed = true; return nil }, nil
		}
		res, err := f.CreateBackend(ctx, cfg)
		if err != nil {
			t.Fatalf("CreateBackend: %v", err)
		}
		_ = res.Cleanup()
		if !closed {
			t.Error("publisher was not closed")
		}
	})
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected error for invalid backend")
	}

	got, err := FromAppConfig(&config.Config{
		DataBackend: "postgres",
		DatabaseURL: "postgres://localhost/moneta",
		AMQPURL:     "amqp://localhost",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if got.Type != PostgresBackend || got.DatabaseURL != "postgres://localhost/moneta" || got.AMQPURL != "amqp://localhost" {
		t.Errorf("unexpected config: %+v", got)
	}
}

func TestBackendTypeIsValid(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("mysql").IsValid() {
		t.Error("mysql should not be valid")
	}
}
