package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the configured engine and returns a repository over it.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, *SQLRepository, error) {
	var dialect Dialect
	switch driver {
	case "postgres", "postgresql":
		dialect = Postgres
	case "sqlite", "sqlite3":
		dialect = SQLite
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(dialect.Name, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("apply %s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	return db, NewSQLRepository(db, dialect), nil
}
