// Package semantic implements the Semantic Tier contract (C4): a typed
// knowledge graph of entities, relationships, and facts, plus the
// schema-adjacent skills tables, persisted to a local SQLite database via
// modernc.org/sqlite (pure Go, no cgo) at GRAPH_DB_PATH.
package semantic

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/semantic/migrations"
)

// Store wraps a SQLite handle shared by the semantic tier and the skill
// library — they are schema-adjacent tables in the same graph store, not
// separate databases.
type Store struct {
	db *sql.DB
}

// Open creates (if absent) and migrates the graph store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: open sqlite", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under the
	// per-namespace write striping the service layer already performs.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errkind.Wrap(errkind.Unavailable, true, "semantic: ping sqlite", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for the skill library, which shares this
// connection rather than opening a second one.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: create schema_migrations", err)
	}

	return RunMigrations(ctx, s.db, migrations.FS)
}

// txError classifies a rollback-path error, preferring the original cause.
func txError(kind errkind.Kind, retryable bool, msg string, err error) error {
	return errkind.Wrap(kind, retryable, fmt.Sprintf("semantic: %s", msg), err)
}
