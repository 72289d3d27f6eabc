package ports

import (
	"context"
	"time"

	"IdeaRadar/internal/domain"
)

// Repository persists sources, items and the windows used for deduplication.
type Repository interface {
	ListSources(ctx context.Context, enabledOnly bool) ([]domain.Source, error)
	GetSource(ctx context.Context, id int64) (domain.Source, error)
	UpsertSource(ctx context.Context, src domain.Source) (int64, error)
	SetSourceCursor(ctx context.Context, id int64, cursor string, lastRun time.Time) error

	// FindByCanonicalURL returns nil without error when no item exists.
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*domain.Item, error)
	UpsertItem(ctx context.Context, item domain.Item) (int64, error)
	RecentFingerprints(ctx context.Context, since time.Time, limit int) ([]domain.FingerprintRef, error)
	RecentExactHashes(ctx context.Context, since time.Time, limit int) ([]domain.HashRef, error)
	TopItems(ctx context.Context, query domain.ItemQuery) ([]domain.Item, error)
}

// Extractor reduces a page, or a body a connector already supplied, to bounded text.
type Extractor interface {
	Extract(ctx context.Context, url string) (domain.Extraction, error)
	FromBody(url, body string) (domain.Extraction, error)
}

// DomainLimiter blocks until another request to host is allowed.
type DomainLimiter interface {
	Wait(ctx context.Context, host string) error
}

// ItemPublisher announces committed items to downstream consumers.
type ItemPublisher interface {
	Publish(ctx context.Context, item domain.Item) error
}

// SummaryArchiver keeps a durable copy of every run summary.
type SummaryArchiver interface {
	Archive(ctx context.Context, summary domain.RunSummary) error
}

// PipelineMetrics receives per-candidate and per-batch observations.
type PipelineMetrics interface {
	ObserveCandidate(source, outcome string)
	ObserveBatch(source string, status domain.BatchStatus, elapsed time.Duration)
}

// Scheduler controls when ingestion runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
