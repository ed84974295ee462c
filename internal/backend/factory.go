package backend

import (
	"context"
	"errors"
	"fmt"

	"moneta/internal/amqp"
	"moneta/internal/log"
	"moneta/internal/services"
	"moneta/internal/storage"
	"moneta/internal/storage/memory"
	"moneta/internal/storage/postgres"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger

	// dialer is replaced in tests
	dialer func(url, exchange, queue string) (services.EventPublisher, func() error, error)
}

var _ Factory = (*DefaultFactory)(nil)

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) *DefaultFactory {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger,
		dialer: dialAMQP,
	}
}

func dialAMQP(url, exchange, queue string) (services.EventPublisher, func() error, error) {
	client, err := amqp.NewClient(url, exchange, queue)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// CreateBackend opens the store for config.Type and wires the transaction
// service on top of it. An unreachable broker only disables events.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	var (
		publisher   services.EventPublisher
		closeBroker func() error
		amqpEnabled bool
	)
	if config.AMQPURL != "" {
		publisher, closeBroker, err = f.dialer(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
			publisher = nil
		} else {
			amqpEnabled = true
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	f.logger.InfoContext(ctx, "Initialized data backend",
		"type", config.Type,
		"amqp_enabled", amqpEnabled)

	return &BackendResult{
		Store:        store,
		Transactions: services.NewTransactionService(store, publisher),
		Cleanup: func() error {
			var errs []error
			if closeBroker != nil {
				if err := closeBroker(); err != nil {
					errs = append(errs, fmt.Errorf("amqp: %w", err))
				}
			}
			if err := store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("storage: %w", err))
			}
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return repo, nil
	case PostgresBackend:
		repo, err := postgres.New(ctx, config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Postgres store")
		return repo, nil
	case MemoryBackend:
		f.logger.WarnContext(ctx, "Using in-memory store, data is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
