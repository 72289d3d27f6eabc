package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"IdeaRadar/internal/ports"
)

// Scheduler wires the cron driver with the run coordinator.
type Scheduler struct {
	driver ports.Scheduler
	runner *Runner
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{driver: driver, runner: runner, logger: logger.With("component", "scheduler")}
}

// Start registers the runner with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		_, err := s.runner.Run(ctx, RunOptions{})
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Info("scheduled run skipped, previous run still active", "trigger", trigger)
		case err != nil:
			s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
