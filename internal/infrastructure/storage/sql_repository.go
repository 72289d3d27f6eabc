package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// ErrNotFound is returned when a source does not exist.
var ErrNotFound = errors.New("not found")

var (
	sourceColumns = []string{"id", "name", "type", "config", "enabled", "resume_cursor", "last_run_at", "created_at"}
	itemColumns   = []string{
		"id", "canonical_url", "title", "source_id", "published_at", "fetched_at",
		"snippet", "summary", "domain", "content_hash", "fingerprint", "duplicate_of",
		"novelty_score", "quality_score", "recency_score", "final_score", "signals", "created_at",
	}
)

// Only mutable fields are refreshed on conflict; identity fields keep their first value.
const itemConflict = `ON CONFLICT (canonical_url) DO UPDATE SET
	snippet = EXCLUDED.snippet,
	summary = EXCLUDED.summary,
	novelty_score = EXCLUDED.novelty_score,
	quality_score = EXCLUDED.quality_score,
	recency_score = EXCLUDED.recency_score,
	final_score = EXCLUDED.final_score,
	signals = EXCLUDED.signals
	RETURNING id`

const sourceConflict = `ON CONFLICT (name) DO UPDATE SET
	type = EXCLUDED.type,
	config = EXCLUDED.config,
	enabled = EXCLUDED.enabled
	RETURNING id`

// SQLRepository persists sources and items through database/sql.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.Repository = (*SQLRepository)(nil)

// NewSQLRepository wires a sql.DB implementation for the given dialect.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
		now:     time.Now,
	}
}

// NewPostgresRepository wires a lib/pq backed sql.DB.
func NewPostgresRepository(db *sql.DB) *SQLRepository {
	return NewSQLRepository(db, Postgres)
}

// NewSQLiteRepository wires a modernc.org/sqlite backed sql.DB.
func NewSQLiteRepository(db *sql.DB) *SQLRepository {
	return NewSQLRepository(db, SQLite)
}

// Migrate creates tables and indexes when they are missing.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.Schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", r.dialect.Name, err)
		}
	}
	return nil
}

// ListSources returns sources ordered by id.
func (r *SQLRepository) ListSources(ctx context.Context, enabledOnly bool) ([]domain.Source, error) {
	query := r.sb.Select(sourceColumns...).From("sources").OrderBy("id")
	if enabledOnly {
		query = query.Where(sq.Eq{"enabled": true})
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sources: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return sources, nil
}

// GetSource loads one source or returns ErrNotFound.
func (r *SQLRepository) GetSource(ctx context.Context, id int64) (domain.Source, error) {
	stmt, args, err := r.sb.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Source{}, fmt.Errorf("build get source: %w", err)
	}
	src, err := scanSource(r.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return src, err
}

// UpsertSource creates or reconfigures a source by name; the cursor is left untouched.
func (r *SQLRepository) UpsertSource(ctx context.Context, src domain.Source) (int64, error) {
	config := string(src.Config)
	if config == "" {
		config = "{}"
	}
	stmt, args, err := r.sb.Insert("sources").
		Columns("name", "type", "config", "enabled", "created_at").
		Values(src.Name, string(src.Type), config, src.Enabled, toMillis(r.now())).
		Suffix(sourceConflict).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build upsert source: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert source %s: %w", src.Name, err)
	}
	return id, nil
}

// SetSourceCursor records the resumption cursor and the time of the last run.
func (r *SQLRepository) SetSourceCursor(ctx context.Context, id int64, cursor string, lastRun time.Time) error {
	stmt, args, err := r.sb.Update("sources").
		Set("resume_cursor", cursor).
		Set("last_run_at", toMillis(lastRun)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set cursor: %w", err)
	}
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return nil
}

// FindByCanonicalURL returns nil when no item has that key.
func (r *SQLRepository) FindByCanonicalURL(ctx context.Context, canonicalURL string) (*domain.Item, error) {
	stmt, args, err := r.sb.Select(itemColumns...).From("items").
		Where(sq.Eq{"canonical_url": canonicalURL}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find item: %w", err)
	}
	item, err := scanItem(r.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertItem inserts the item or refreshes its mutable fields and returns its id.
func (r *SQLRepository) UpsertItem(ctx context.Context, item domain.Item) (int64, error) {
	signals, err := encodeSignals(item.Signals)
	if err != nil {
		return 0, err
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	stmt, args, err := r.sb.Insert("items").
		Columns(itemColumns[1:]...).
		Values(
			item.CanonicalURL,
			item.Title,
			item.SourceID,
			nullMillis(item.PublishedAt),
			toMillis(item.FetchedAt),
			item.Snippet,
			item.Summary,
			item.Domain,
			item.ContentHash,
			nullFingerprint(item.Fingerprint),
			nullID(item.DuplicateOf),
			item.NoveltyScore,
			item.QualityScore,
			item.RecencyScore,
			item.FinalScore,
			signals,
			toMillis(createdAt),
		).
		Suffix(itemConflict).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build upsert item: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert item %s: %w", item.CanonicalURL, err)
	}
	return id, nil
}

// RecentFingerprints returns fingerprinted items fetched at or after since, newest first.
func (r *SQLRepository) RecentFingerprints(ctx context.Context, since time.Time, limit int) ([]domain.FingerprintRef, error) {
	query := r.sb.Select("id", "fingerprint", "duplicate_of").From("items").
		Where(sq.NotEq{"fingerprint": nil}).
		Where(sq.GtOrEq{"fetched_at": toMillis(since)}).
		OrderBy("fetched_at DESC", "id DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent fingerprints: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var refs []domain.FingerprintRef
	for rows.Next() {
		var (
			ref  domain.FingerprintRef
			fp   int64
			dupe sql.NullInt64
		)
		if err := rows.Scan(&ref.ItemID, &fp, &dupe); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		ref.Fingerprint = uint64(fp)
		ref.DuplicateOf = idPtr(dupe)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return refs, nil
}

// RecentExactHashes returns content hashes of items fetched at or after since, newest first.
func (r *SQLRepository) RecentExactHashes(ctx context.Context, since time.Time, limit int) ([]domain.HashRef, error) {
	query := r.sb.Select("id", "content_hash", "duplicate_of").From("items").
		Where(sq.NotEq{"content_hash": ""}).
		Where(sq.GtOrEq{"fetched_at": toMillis(since)}).
		OrderBy("fetched_at DESC", "id DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent hashes: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	var refs []domain.HashRef
	for rows.Next() {
		var (
			ref  domain.HashRef
			dupe sql.NullInt64
		)
		if err := rows.Scan(&ref.ItemID, &ref.ContentHash, &dupe); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		ref.DuplicateOf = idPtr(dupe)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return refs, nil
}

// TopItems lists committed items by final score.
func (r *SQLRepository) TopItems(ctx context.Context, q domain.ItemQuery) ([]domain.Item, error) {
	query := r.sb.Select(itemColumns...).From("items").OrderBy("final_score DESC", "id DESC")
	if q.UniqueOnly {
		query = query.Where(sq.Eq{"duplicate_of": nil})
	}
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit))
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build top items: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (domain.Source, error) {
	var (
		src       domain.Source
		typ       string
		config    string
		lastRunAt sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&src.ID, &src.Name, &typ, &config, &src.Enabled, &src.Cursor, &lastRunAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, err
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.Type = domain.SourceType(typ)
	src.Config = json.RawMessage(config)
	src.LastRunAt = timePtr(lastRunAt)
	src.CreatedAt = fromMillis(createdAt)
	return src, nil
}

func scanItem(row scanner) (domain.Item, error) {
	var (
		item        domain.Item
		publishedAt sql.NullInt64
		fetchedAt   int64
		fingerprint sql.NullInt64
		duplicateOf sql.NullInt64
		signals     string
		createdAt   int64
	)
	err := row.Scan(
		&item.ID, &item.CanonicalURL, &item.Title, &item.SourceID, &publishedAt, &fetchedAt,
		&item.Snippet, &item.Summary, &item.Domain, &item.ContentHash, &fingerprint, &duplicateOf,
		&item.NoveltyScore, &item.QualityScore, &item.RecencyScore, &item.FinalScore, &signals, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, err
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("scan item: %w", err)
	}

	item.PublishedAt = timePtr(publishedAt)
	item.FetchedAt = fromMillis(fetchedAt)
	item.CreatedAt = fromMillis(createdAt)
	item.DuplicateOf = idPtr(duplicateOf)
	if fingerprint.Valid {
		fp := uint64(fingerprint.Int64)
		item.Fingerprint = &fp
	}
	if signals != "" {
		if err := json.Unmarshal([]byte(signals), &item.Signals); err != nil {
			return domain.Item{}, fmt.Errorf("decode signals of item %d: %w", item.ID, err)
		}
	}
	return item, nil
}

func encodeSignals(signals map[string]any) (string, error) {
	if len(signals) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(signals)
	if err != nil {
		return "", fmt.Errorf("encode signals: %w", err)
	}
	return string(raw), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullFingerprint(fp *uint64) sql.NullInt64 {
	if fp == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*fp), Valid: true}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
