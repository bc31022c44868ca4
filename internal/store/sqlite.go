package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS ngs_documents (
	namespace TEXT    NOT NULL,
	id        INTEGER NOT NULL,
	content   TEXT    NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE TABLE IF NOT EXISTS ngs_terms (
	namespace TEXT    NOT NULL,
	term      TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	postings  TEXT    NOT NULL,
	PRIMARY KEY (namespace, term)
);`,
}

// NewSQLiteProvider opens (or creates) the database at path. An empty path or
// ":memory:" opens a private in-memory database.
func NewSQLiteProvider(ctx context.Context, path string, prefix string) (Provider, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection: every ":memory:" connection is a separate database, and
	// a single writer avoids SQLITE_BUSY on file databases.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if dsn != ":memory:" {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("setting %q: %w", pragma, err)
			}
		}
	}

	p, err := newSQLProvider(ctx, db, sqliteDialect, prefix, db.Close)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}
