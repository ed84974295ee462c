package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"moneta/internal/cli"
	"moneta/internal/core"
	"moneta/internal/log"
)

func main() {
	once := flag.Bool("once", false, "run a single processing pass, print a summary and exit")
	asOfFlag := flag.String("as-of", "", "process as of this date (YYYY-MM-DD), default now; requires -once")
	flag.Parse()

	if err := run(*once, *asOfFlag, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(once bool, asOfFlag string, out io.Writer) error {
	asOf, err := parseAsOf(asOfFlag)
	if err != nil {
		return err
	}
	if !asOf.IsZero() && !once {
		return fmt.Errorf("-as-of requires -once")
	}

	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger, err := cli.SetupLogger(cfg, log.ComponentScheduler)
	if err != nil {
		return err
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	app, err := cli.BuildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize recurring-worker", log.FieldError, err)
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
	}()

	if once {
		summary, err := app.Scheduler.RunOnce(ctx, asOf)
		if err != nil {
			return fmt.Errorf("process recurring templates: %w", err)
		}
		renderSummary(out, summary)
		return nil
	}

	logger.Info("Starting recurring-worker",
		"backend", cfg.DataBackend,
		"schedule", cfg.RecurringSchedule,
		"concurrency", cfg.RecurringConcurrency)
	app.Scheduler.Start(ctx)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := cli.ShutdownContext(30 * time.Second)
	defer shutdownCancel()
	if err := app.Scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not stop in time", log.FieldError, err)
	}
	logger.Info("Recurring-worker shutdown complete")
	return nil
}

func parseAsOf(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := core.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -as-of: %w", err)
	}
	return t, nil
}

func renderSummary(out io.Writer, s core.RunSummary) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"As of", "Processed", "Skipped", "Failed", "Total"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{
		s.AsOf.UTC().Format(time.RFC3339),
		strconv.Itoa(s.Processed),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Failed),
		strconv.Itoa(s.Total),
	})
	table.Render()
}
