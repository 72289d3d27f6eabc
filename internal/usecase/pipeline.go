package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"IdeaRadar/internal/canonical"
	"IdeaRadar/internal/connector"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/fingerprint"
	"IdeaRadar/internal/ports"
	"IdeaRadar/internal/scoring"
)

// Candidate outcomes reported to metrics.
const (
	OutcomeInserted = "inserted"
	OutcomeDeduped  = "deduped"
	OutcomeSkipped  = "skipped"
	OutcomeUpdated  = "updated"
	OutcomeErrored  = "errored"
)

const (
	stopCanceled = "canceled"
	stopBudget   = "budget"

	defaultPublishTimeout = 2 * time.Second
)

// RunConfig is the immutable per-run configuration threaded through every batch.
type RunConfig struct {
	RunID                string
	MaxItems             int
	MaxConcurrentSources int
	BatchBudget          time.Duration
	CandidateReserve     time.Duration
	CandidateTimeout     time.Duration
	NoveltyWindow        time.Duration
	CorpusLimit          int
	FingerprintThreshold int
	MinBodyLength        int
	MaxErrors            int
	ForceRescore         bool
	Scoring              scoring.Params
}

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Repository ports.Repository
	Connectors *connector.Registry
	Extractor  ports.Extractor
	Publisher  ports.ItemPublisher
	Metrics    ports.PipelineMetrics
	Logger     *slog.Logger
	Clock      func() time.Time

	// PublishTimeout bounds each event hand-off; defaults to 2s.
	PublishTimeout time.Duration
}

// Pipeline implements the fetch, deduplicate, score and commit workflow.
type Pipeline struct {
	repository ports.Repository
	connectors *connector.Registry
	extractor  ports.Extractor
	publisher  ports.ItemPublisher
	metrics    ports.PipelineMetrics
	logger     *slog.Logger
	now        func() time.Time

	publishTimeout time.Duration
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		repository: deps.Repository,
		connectors: deps.Connectors,
		extractor:  deps.Extractor,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Clock,

		publishTimeout: deps.PublishTimeout,
	}
	if p.connectors == nil {
		p.connectors = connector.NewRegistry()
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.publishTimeout <= 0 {
		p.publishTimeout = defaultPublishTimeout
	}
	return p
}

// RunAll runs one batch for every enabled source, sources in parallel.
// Only a failure to list sources is returned; batch failures stay in the summary.
func (p *Pipeline) RunAll(ctx context.Context, cfg RunConfig) (domain.RunSummary, error) {
	run := domain.RunSummary{RunID: cfg.RunID, StartedAt: p.now()}

	sources, err := p.repository.ListSources(ctx, true)
	if err != nil {
		return run, &domain.StorageError{Op: "list sources", Err: err}
	}
	return p.runSources(ctx, cfg, run, sources), nil
}

// RunSource runs one batch for the named source, enabled or not.
func (p *Pipeline) RunSource(ctx context.Context, cfg RunConfig, name string) (domain.RunSummary, error) {
	run := domain.RunSummary{RunID: cfg.RunID, StartedAt: p.now()}

	sources, err := p.repository.ListSources(ctx, false)
	if err != nil {
		return run, &domain.StorageError{Op: "list sources", Err: err}
	}
	for _, src := range sources {
		if src.Name == name {
			src.Enabled = true
			return p.runSources(ctx, cfg, run, []domain.Source{src}), nil
		}
	}
	return run, &domain.ConfigurationError{Source: name, Err: errors.New("source is not configured")}
}

func (p *Pipeline) runSources(ctx context.Context, cfg RunConfig, run domain.RunSummary, sources []domain.Source) domain.RunSummary {
	results := make([]domain.BatchSummary, len(sources))

	var g errgroup.Group
	if cfg.MaxConcurrentSources > 0 {
		g.SetLimit(cfg.MaxConcurrentSources)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			summary, err := p.RunBatch(ctx, cfg, src)
			if err != nil {
				p.logger.Error("batch aborted", "source", src.Name, "run_id", cfg.RunID, "error", err)
			}
			results[i] = summary
			return nil
		})
	}
	_ = g.Wait()

	for _, summary := range results {
		run.Totals.Add(summary)
	}
	run.Sources = results
	run.FinishedAt = p.now()
	return run
}

// RunBatch fetches one bounded batch for src and commits it candidate by
// candidate. Candidate failures are recorded and skipped; only a repository
// failure aborts the batch, in which case the cursor is not advanced.
func (p *Pipeline) RunBatch(ctx context.Context, cfg RunConfig, src domain.Source) (summary domain.BatchSummary, err error) {
	started := p.now()
	summary = domain.BatchSummary{
		RunID:      cfg.RunID,
		SourceID:   src.ID,
		SourceName: src.Name,
		Status:     domain.BatchOK,
		Cursor:     src.Cursor,
		StartedAt:  started,
	}
	logger := p.logger.With("source", src.Name, "run_id", cfg.RunID)
	defer func() {
		summary.Duration = p.now().Sub(started)
		p.metrics.ObserveBatch(src.Name, summary.Status, summary.Duration)
	}()

	if !src.Enabled {
		summary.Status = domain.BatchDisabled
		return summary, nil
	}

	settings, err := src.Settings()
	if err != nil {
		return p.failBatch(logger, summary, domain.BatchConfigError, err), nil
	}
	conn, err := p.connectors.ResolveSource(src)
	if err != nil {
		return p.failBatch(logger, summary, domain.BatchConfigError, err), nil
	}

	fetchCtx := ctx
	var deadline time.Time
	if cfg.BatchBudget > 0 {
		deadline = started.Add(cfg.BatchBudget)
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.BatchBudget)
		defer cancel()
	}

	result, err := conn.Fetch(fetchCtx, connector.Request{
		SourceName: src.Name,
		Config:     src.Config,
		Cursor:     src.Cursor,
		Limit:      cfg.MaxItems,
	})
	if err != nil {
		status := domain.BatchFetchFailed
		if domain.KindOf(err) == domain.KindConfiguration {
			status = domain.BatchConfigError
		}
		return p.failBatch(logger, summary, status, err), nil
	}
	summary.Fetched = len(result.Candidates)

	window, err := p.loadCorpus(ctx, cfg)
	if err != nil {
		return p.failBatch(logger, summary, domain.BatchStorageError, err), err
	}
	scorer := scoring.NewScorer(cfg.Scoring)

	cursor := src.Cursor
	var slowest time.Duration
	for i, cand := range result.Candidates {
		if ctx.Err() != nil {
			summary.StoppedReason = stopCanceled
			break
		}
		if !deadline.IsZero() {
			reserve := max(cfg.CandidateReserve, slowest)
			if p.now().Add(reserve).After(deadline) {
				summary.StoppedReason = stopBudget
				break
			}
		}

		candStarted := p.now()
		outcome, cErr := p.processCandidate(ctx, cfg, src, settings, scorer, window, cand)
		slowest = max(slowest, p.now().Sub(candStarted))

		if cErr != nil {
			if domain.KindOf(cErr) == domain.KindStorage {
				return p.failBatch(logger, summary, domain.BatchStorageError, cErr), cErr
			}
			summary.Errored++
			if len(summary.Errors) < cfg.MaxErrors || cfg.MaxErrors <= 0 {
				summary.Errors = append(summary.Errors, domain.CandidateError{
					Index:   i,
					URL:     cand.URL,
					Kind:    domain.KindOf(cErr),
					Message: cErr.Error(),
				})
			}
			logger.Debug("candidate failed", "index", i, "url", cand.URL, "error", cErr)
			outcome = OutcomeErrored
		}
		countOutcome(&summary, outcome)
		p.metrics.ObserveCandidate(src.Name, outcome)

		if cand.Cursor != "" {
			cursor = cand.Cursor
		}
	}

	if summary.StoppedReason == "" {
		cursor = result.Next
	} else {
		summary.Status = domain.BatchPartial
	}

	if err := p.repository.SetSourceCursor(context.WithoutCancel(ctx), src.ID, cursor, p.now()); err != nil {
		sErr := &domain.StorageError{Op: "set cursor", Err: err}
		return p.failBatch(logger, summary, domain.BatchStorageError, sErr), sErr
	}
	summary.Cursor = cursor

	logger.Info("batch finished",
		"status", summary.Status,
		"fetched", summary.Fetched,
		"processed", summary.Processed,
		"inserted", summary.Inserted,
		"deduped", summary.Deduped,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"stopped", summary.StoppedReason,
	)
	return summary, nil
}

func (p *Pipeline) failBatch(logger *slog.Logger, summary domain.BatchSummary, status domain.BatchStatus, err error) domain.BatchSummary {
	summary.Status = status
	summary.Error = err.Error()
	logger.Warn("batch failed", "status", status, "kind", domain.KindOf(err), "error", err)
	return summary
}

func (p *Pipeline) loadCorpus(ctx context.Context, cfg RunConfig) (*corpus, error) {
	since := time.Time{}
	if cfg.NoveltyWindow > 0 {
		since = p.now().Add(-cfg.NoveltyWindow)
	}
	fps, err := p.repository.RecentFingerprints(ctx, since, cfg.CorpusLimit)
	if err != nil {
		return nil, &domain.StorageError{Op: "load fingerprints", Err: err}
	}
	hashes, err := p.repository.RecentExactHashes(ctx, since, cfg.CorpusLimit)
	if err != nil {
		return nil, &domain.StorageError{Op: "load hashes", Err: err}
	}
	return newCorpus(fps, hashes), nil
}

// processCandidate runs on a context detached from cancellation so an
// in-flight candidate always completes; CandidateTimeout bounds it instead.
func (p *Pipeline) processCandidate(
	ctx context.Context,
	cfg RunConfig,
	src domain.Source,
	settings domain.SourceSettings,
	scorer *scoring.Scorer,
	window *corpus,
	cand domain.Candidate,
) (string, error) {
	if strings.TrimSpace(cand.URL) == "" {
		return "", &domain.ExtractionError{Err: errors.New("candidate has no url")}
	}

	candCtx := context.WithoutCancel(ctx)
	if cfg.CandidateTimeout > 0 {
		var cancel context.CancelFunc
		candCtx, cancel = context.WithTimeout(candCtx, cfg.CandidateTimeout)
		defer cancel()
	}

	key := canonical.Canonicalize(cand.URL)
	existing, err := p.repository.FindByCanonicalURL(candCtx, key)
	if err != nil {
		return "", &domain.StorageError{Op: "find item", Err: err}
	}
	if existing != nil && !cfg.ForceRescore {
		return p.refreshSignals(candCtx, existing, cand)
	}

	ext, err := p.extract(candCtx, cfg, cand)
	if err != nil {
		return "", err
	}

	fetchedAt := p.now()
	input := scoring.Input{
		SourceWeight: settings.Weight,
		Signals:      cand.Signals,
		Text:         ext.Text,
		PublishedAt:  cand.PublishedAt,
		FetchedAt:    fetchedAt,
	}

	var exclude int64
	if existing != nil {
		exclude = existing.ID
		input.FetchedAt = existing.FetchedAt
	}

	var (
		duplicateOf *int64
		fp          *uint64
	)
	if ref, ok := window.exact(ext.ContentHash, exclude); ok {
		root := ref.Root()
		duplicateOf = &root
		input.ExactDuplicate = true
	} else {
		value := fingerprint.Compute(cand.Title + " " + ext.Text)
		fp = &value
		if nearest, distance, ok := window.nearest(value, exclude); ok {
			input.HasNeighbour = true
			input.NearestDistance = distance
			if distance <= cfg.FingerprintThreshold {
				root := nearest.Root()
				duplicateOf = &root
			}
		}
	}
	scores := scorer.Score(input, p.now())

	if existing != nil {
		updated := *existing
		updated.Snippet = ext.Snippet
		updated.Summary = ext.Summary
		updated.Signals = mergeSignals(existing.Signals, cand.Signals)
		applyScores(&updated, scores)
		if _, err := p.repository.UpsertItem(candCtx, updated); err != nil {
			return "", &domain.StorageError{Op: "rescore item", Err: err}
		}
		p.publish(candCtx, updated)
		return OutcomeUpdated, nil
	}

	title := strings.TrimSpace(cand.Title)
	if title == "" {
		title = key
	}
	item := domain.Item{
		CanonicalURL: key,
		Title:        title,
		SourceID:     src.ID,
		PublishedAt:  cand.PublishedAt,
		FetchedAt:    fetchedAt,
		Snippet:      ext.Snippet,
		Summary:      ext.Summary,
		Domain:       ext.Domain,
		ContentHash:  ext.ContentHash,
		Fingerprint:  fp,
		DuplicateOf:  duplicateOf,
		Signals:      cand.Signals,
	}
	applyScores(&item, scores)

	id, err := p.repository.UpsertItem(candCtx, item)
	if err != nil {
		return "", &domain.StorageError{Op: "upsert item", Err: err}
	}
	item.ID = id
	window.add(item)
	p.publish(candCtx, item)

	if item.IsDuplicate() {
		return OutcomeDeduped, nil
	}
	return OutcomeInserted, nil
}

// refreshSignals updates the mutable engagement signals of an item seen before.
func (p *Pipeline) refreshSignals(ctx context.Context, existing *domain.Item, cand domain.Candidate) (string, error) {
	if len(cand.Signals) == 0 {
		return OutcomeSkipped, nil
	}
	updated := *existing
	updated.Signals = mergeSignals(existing.Signals, cand.Signals)
	if _, err := p.repository.UpsertItem(ctx, updated); err != nil {
		return "", &domain.StorageError{Op: "refresh signals", Err: err}
	}
	return OutcomeSkipped, nil
}

func (p *Pipeline) extract(ctx context.Context, cfg RunConfig, cand domain.Candidate) (domain.Extraction, error) {
	if p.extractor == nil {
		return domain.Extraction{}, &domain.ConfigurationError{Err: errors.New("no extractor configured")}
	}
	if cfg.MinBodyLength > 0 && len([]rune(strings.TrimSpace(cand.Body))) >= cfg.MinBodyLength {
		ext, err := p.extractor.FromBody(cand.URL, cand.Body)
		if err == nil {
			return ext, nil
		}
	}
	ext, err := p.extractor.Extract(ctx, cand.URL)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract candidate: %w", err)
	}
	return ext, nil
}

func (p *Pipeline) publish(ctx context.Context, item domain.Item) {
	if p.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()
	if err := p.publisher.Publish(ctx, item); err != nil {
		p.logger.Warn("publish item", "url", item.CanonicalURL, "error", err)
	}
}

func countOutcome(summary *domain.BatchSummary, outcome string) {
	summary.Processed++
	switch outcome {
	case OutcomeInserted:
		summary.Inserted++
	case OutcomeDeduped:
		summary.Deduped++
	case OutcomeSkipped:
		summary.Skipped++
	case OutcomeUpdated:
		summary.Updated++
	}
}

func applyScores(item *domain.Item, s scoring.Scores) {
	item.NoveltyScore = s.Novelty
	item.QualityScore = s.Quality
	item.RecencyScore = s.Recency
	item.FinalScore = s.Final
}

func mergeSignals(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

type nopMetrics struct{}

func (nopMetrics) ObserveCandidate(string, string)                        {}
func (nopMetrics) ObserveBatch(string, domain.BatchStatus, time.Duration) {}
