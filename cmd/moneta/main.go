package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"moneta/internal/cli"
	apphttp "moneta/internal/http"
	"moneta/internal/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger, err := cli.SetupLogger(cfg, log.ComponentApp)
	if err != nil {
		return err
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	app, err := cli.BuildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", log.FieldError, err)
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
	}()

	// manual runs go through the scheduler so they share its timeout and last-run record
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.ProcessorFunc(app.Scheduler.RunOnce), app.Backend.Store,
		logger.WithComponent(log.ComponentHTTP),
		apphttp.WithReadiness(app.Backend.Store.Ping),
		apphttp.WithLastRun(app.Scheduler.LastSummary),
		apphttp.WithTriggerLimit(6))

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.RunTimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	app.Scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting moneta server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"schedule", cfg.RecurringSchedule)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("Server error", log.FieldError, serveErr, "port", cfg.Port)
		}
	}

	shutdownCtx, shutdownCancel := cli.ShutdownContext(30 * time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err)
	}
	if err := app.Scheduler.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("Scheduler shutdown error", log.FieldError, err)
	}

	logger.Info("Server stopped gracefully")
	return serveErr
}
