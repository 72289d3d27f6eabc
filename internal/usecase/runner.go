package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// ErrRunInProgress is returned when a run is requested while another one is active.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// RunOptions narrow a single run.
type RunOptions struct {
	// Source limits the run to one named source; empty means all enabled sources.
	Source string
	Force  bool
}

// RunnerDeps configures a Runner.
type RunnerDeps struct {
	Pipeline *Pipeline
	Config   RunConfig
	Archiver ports.SummaryArchiver
	// OnFinish is called with the completion time of every run.
	OnFinish func(time.Time)
	Logger   *slog.Logger
}

// Runner serializes ingestion runs. Cron ticks, HTTP triggers and the CLI
// all go through it so at most one run executes per process.
type Runner struct {
	pipeline *Pipeline
	base     RunConfig
	archiver ports.SummaryArchiver
	onFinish func(time.Time)
	logger   *slog.Logger
	running  atomic.Bool
	newID    func() string
}

// NewRunner builds a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		pipeline: deps.Pipeline,
		base:     deps.Config,
		archiver: deps.Archiver,
		onFinish: deps.OnFinish,
		logger:   logger.With("component", "runner"),
		newID:    func() string { return uuid.NewString() },
	}
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run executes one ingestion run and returns its summary.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (domain.RunSummary, error) {
	if r.pipeline == nil {
		return domain.RunSummary{}, errors.New("runner has no pipeline")
	}
	if !r.running.CompareAndSwap(false, true) {
		return domain.RunSummary{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	cfg := r.base
	cfg.RunID = r.newID()
	cfg.ForceRescore = cfg.ForceRescore || opts.Force

	logger := r.logger.With("run_id", cfg.RunID)
	logger.Info("run started", "source", opts.Source, "force", cfg.ForceRescore)

	var (
		summary domain.RunSummary
		err     error
	)
	if opts.Source != "" {
		summary, err = r.pipeline.RunSource(ctx, cfg, opts.Source)
	} else {
		summary, err = r.pipeline.RunAll(ctx, cfg)
	}
	if err != nil {
		logger.Error("run failed", "kind", domain.KindOf(err), "error", err)
		return summary, fmt.Errorf("run %s: %w", cfg.RunID, err)
	}

	if r.archiver != nil {
		if aErr := r.archiver.Archive(context.WithoutCancel(ctx), summary); aErr != nil {
			logger.Warn("archive run summary", "error", aErr)
		}
	}
	if r.onFinish != nil {
		r.onFinish(summary.FinishedAt)
	}

	t := summary.Totals
	logger.Info("run finished",
		"sources", t.Sources,
		"failed", t.Failed,
		"processed", t.Processed,
		"inserted", t.Inserted,
		"deduped", t.Deduped,
		"skipped", t.Skipped,
		"updated", t.Updated,
		"errored", t.Errored,
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}
