// Package scheduler runs the recurring processor on a cron schedule. Runs
// never overlap: a tick that fires while the previous run is still going is
// skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/services"
)

// Runner performs one processing pass.
type Runner interface {
	ProcessDueRecurrences(ctx context.Context, asOf time.Time) (core.RunSummary, error)
}

type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor such as "@every 1h".
	Schedule string
	// Timeout bounds a single run. Zero means no limit.
	Timeout time.Duration
	// RunOnStart triggers one run as soon as Start is called.
	RunOnStart bool
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    Config
	logger *log.Logger

	startup sync.WaitGroup

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	last   core.RunSummary
}

func New(runner Runner, cfg Config, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentScheduler)
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		cron:   c,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}

	if _, err := c.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("add recurring job %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins firing the job. The context bounds every run started afterwards.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Recurring scheduler started",
		"schedule", s.cfg.Schedule,
		"timeout", s.cfg.Timeout)

	if s.cfg.RunOnStart {
		// goes through the cron chain so it cannot overlap with a tick
		job := s.cron.Entries()[0].WrappedJob
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			job.Run()
		}()
	}
	s.cron.Start()
}

// Stop prevents new runs and waits for a running one to finish or for ctx
// to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.startup.Wait()
		close(done)
	}()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		s.logger.InfoContext(ctx, "Recurring scheduler stopped")
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.logger.WarnContext(ctx, "Recurring scheduler stop timed out")
		return ctx.Err()
	}
}

// RunOnce performs a single pass bounded by the configured timeout.
func (s *Scheduler) RunOnce(ctx context.Context, asOf time.Time) (core.RunSummary, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := s.runner.ProcessDueRecurrences(ctx, asOf)
	if err != nil {
		return summary, err
	}

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	fields := log.NewFields().
		WithOperation(log.OpProcess).
		WithRunCounts(summary.Processed, summary.Skipped, summary.Failed, summary.Total)
	fields[log.FieldDuration] = time.Since(start).Milliseconds()
	s.logger.InfoContext(ctx, "Recurring run finished", fields.ToSlice()...)
	return summary, nil
}

// LastSummary returns the result of the most recent successful run.
func (s *Scheduler) LastSummary() core.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.RunOnce(ctx, time.Time{})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrRunInProgress):
		s.logger.InfoContext(ctx, "Recurring run skipped, another run is in progress")
	default:
		s.logger.ErrorContext(ctx, "Recurring run failed",
			log.NewFields().WithOperation(log.OpProcess).WithError(err).ToSlice()...)
	}
}

// cronLogger adapts the component logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, log.FieldError, err)...)
}
