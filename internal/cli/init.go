// Package cli provides common initialization shared by cmd/moneta and
// cmd/recurring-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/backend"
	"moneta/internal/config"
	"moneta/internal/log"
	"moneta/internal/scheduler"
	"moneta/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the application logger from LOG_LEVEL and LOG_FORMAT
// and installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) (*log.Logger, error) {
	lc, err := log.ConfigFromSettings(cfg.LogLevel, cfg.LogFormat, component)
	if err != nil {
		return nil, err
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger, nil
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App bundles the wired components of one process.
type App struct {
	Backend   *backend.BackendResult
	Scheduler *scheduler.Scheduler
}

// BuildApp opens the configured backend and wires the processor and scheduler.
func BuildApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	processor := services.NewRecurringProcessor(res.Store, res.Transactions,
		services.WithConcurrency(cfg.RecurringConcurrency))

	sched, err := scheduler.New(processor, scheduler.Config{
		Schedule:   cfg.RecurringSchedule,
		Timeout:    cfg.RunTimeout,
		RunOnStart: true,
	}, logger.WithComponent(log.ComponentScheduler))
	if err != nil {
		_ = res.Cleanup()
		return nil, err
	}

	return &App{Backend: res, Scheduler: sched}, nil
}

// Close releases the backend.
func (a *App) Close() error {
	return a.Backend.Cleanup()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// ShutdownContext bounds graceful shutdown.
func ShutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
