package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// MemoryRepository keeps everything in process memory. Writes are serialized
// by one mutex, which also makes canonical_url upserts atomic.
type MemoryRepository struct {
	mu        sync.Mutex
	sources   map[int64]domain.Source
	items     map[int64]domain.Item
	byURL     map[string]int64
	nextSrcID int64
	nextID    int64
	now       func() time.Time
}

var _ ports.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sources: map[int64]domain.Source{},
		items:   map[int64]domain.Item{},
		byURL:   map[string]int64{},
		now:     time.Now,
	}
}

// ListSources returns sources ordered by id.
func (m *MemoryRepository) ListSources(_ context.Context, enabledOnly bool) ([]domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Source, 0, len(m.sources))
	for _, src := range m.sources {
		if enabledOnly && !src.Enabled {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSource loads one source or returns ErrNotFound.
func (m *MemoryRepository) GetSource(_ context.Context, id int64) (domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return domain.Source{}, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return src, nil
}

// UpsertSource creates or reconfigures a source by name; the cursor is left untouched.
func (m *MemoryRepository) UpsertSource(_ context.Context, src domain.Source) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.sources {
		if existing.Name == src.Name {
			existing.Type = src.Type
			existing.Config = src.Config
			existing.Enabled = src.Enabled
			m.sources[id] = existing
			return id, nil
		}
	}
	m.nextSrcID++
	src.ID = m.nextSrcID
	src.Cursor = ""
	src.LastRunAt = nil
	src.CreatedAt = m.now().UTC()
	m.sources[src.ID] = src
	return src.ID, nil
}

// SetSourceCursor records the resumption cursor and the time of the last run.
func (m *MemoryRepository) SetSourceCursor(_ context.Context, id int64, cursor string, lastRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	src.Cursor = cursor
	run := lastRun.UTC()
	src.LastRunAt = &run
	m.sources[id] = src
	return nil
}

// FindByCanonicalURL returns nil when no item has that key.
func (m *MemoryRepository) FindByCanonicalURL(_ context.Context, canonicalURL string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byURL[canonicalURL]
	if !ok {
		return nil, nil
	}
	item := m.items[id]
	return &item, nil
}

// UpsertItem inserts the item or refreshes its mutable fields and returns its id.
func (m *MemoryRepository) UpsertItem(_ context.Context, item domain.Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byURL[item.CanonicalURL]; ok {
		existing := m.items[id]
		existing.Snippet = item.Snippet
		existing.Summary = item.Summary
		existing.NoveltyScore = item.NoveltyScore
		existing.QualityScore = item.QualityScore
		existing.RecencyScore = item.RecencyScore
		existing.FinalScore = item.FinalScore
		existing.Signals = item.Signals
		m.items[id] = existing
		return id, nil
	}

	m.nextID++
	item.ID = m.nextID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now().UTC()
	}
	m.items[item.ID] = item
	m.byURL[item.CanonicalURL] = item.ID
	return item.ID, nil
}

// RecentFingerprints returns fingerprinted items fetched at or after since, newest first.
func (m *MemoryRepository) RecentFingerprints(_ context.Context, since time.Time, limit int) ([]domain.FingerprintRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []domain.FingerprintRef
	for _, item := range m.recent(since, limit) {
		if item.Fingerprint == nil {
			continue
		}
		refs = append(refs, domain.FingerprintRef{ItemID: item.ID, Fingerprint: *item.Fingerprint, DuplicateOf: item.DuplicateOf})
	}
	return refs, nil
}

// RecentExactHashes returns content hashes of items fetched at or after since, newest first.
func (m *MemoryRepository) RecentExactHashes(_ context.Context, since time.Time, limit int) ([]domain.HashRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []domain.HashRef
	for _, item := range m.recent(since, limit) {
		if item.ContentHash == "" {
			continue
		}
		refs = append(refs, domain.HashRef{ItemID: item.ID, ContentHash: item.ContentHash, DuplicateOf: item.DuplicateOf})
	}
	return refs, nil
}

// TopItems lists committed items by final score.
func (m *MemoryRepository) TopItems(_ context.Context, q domain.ItemQuery) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		if q.UniqueOnly && item.DuplicateOf != nil {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Items returns a snapshot of every stored item ordered by id.
func (m *MemoryRepository) Items() []domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryRepository) recent(since time.Time, limit int) []domain.Item {
	out := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		if item.FetchedAt.Before(since) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.After(out[j].FetchedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
