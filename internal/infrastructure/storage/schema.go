package storage

import (
	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	Schema      []string
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		resume_cursor TEXT NOT NULL DEFAULT '',
		last_run_at BIGINT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		canonical_url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		published_at BIGINT,
		fetched_at BIGINT NOT NULL,
		snippet TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		fingerprint BIGINT,
		duplicate_of BIGINT REFERENCES items(id),
		novelty_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		recency_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		final_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		signals TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_fetched_at ON items (fetched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_items_content_hash ON items (content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_items_final_score ON items (final_score DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		enabled INTEGER NOT NULL DEFAULT 1,
		resume_cursor TEXT NOT NULL DEFAULT '',
		last_run_at INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		canonical_url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		published_at INTEGER,
		fetched_at INTEGER NOT NULL,
		snippet TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		fingerprint INTEGER,
		duplicate_of INTEGER REFERENCES items(id),
		novelty_score REAL NOT NULL DEFAULT 0,
		quality_score REAL NOT NULL DEFAULT 0,
		recency_score REAL NOT NULL DEFAULT 0,
		final_score REAL NOT NULL DEFAULT 0,
		signals TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_fetched_at ON items (fetched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_items_content_hash ON items (content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_items_final_score ON items (final_score DESC)`,
}

// Postgres targets github.com/lib/pq.
var Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar, Schema: postgresSchema}

// SQLite targets modernc.org/sqlite.
var SQLite = Dialect{Name: "sqlite", Placeholder: sq.Question, Schema: sqliteSchema}
