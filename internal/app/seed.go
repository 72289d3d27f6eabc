package app

import (
	"context"

	"IdeaRadar/internal/config"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// SeedSources upserts every configured source by name. Cursors of existing
// sources are kept.
func SeedSources(ctx context.Context, repo ports.Repository, sources []config.SourceConfig) (int, error) {
	for _, sc := range sources {
		src, err := sc.ToSource()
		if err != nil {
			return 0, &domain.ConfigurationError{Source: sc.Name, Err: err}
		}
		if _, err := repo.UpsertSource(ctx, src); err != nil {
			return 0, &domain.StorageError{Op: "seed source " + sc.Name, Err: err}
		}
	}
	return len(sources), nil
}
