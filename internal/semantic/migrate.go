package semantic

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"strings"

	"github.com/ashita-ai/vesper/internal/errkind"
)

// RunMigrations executes every .sql file in migrationsFS, in filename order,
// skipping files already recorded in schema_migrations. Each migration runs
// inside its own transaction; a forward-only runner, same as the teacher's.
func RunMigrations(ctx context.Context, db *sql.DB, migrationsFS fs.FS) error {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: read migrations dir", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: list applied migrations", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return errkind.Wrap(errkind.Internal, false, "semantic: scan applied migration", err)
		}
		applied[name] = true
	}
	if err := rows.Close(); err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: close migration rows", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if applied[entry.Name()] {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, entry.Name())
		if err != nil {
			return errkind.Wrap(errkind.Internal, false, "semantic: read migration "+entry.Name(), err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errkind.Wrap(errkind.Internal, false, "semantic: begin migration tx", err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return errkind.Wrap(errkind.Internal, false, "semantic: apply migration "+entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename, applied_at) VALUES (?, datetime('now'))`, entry.Name()); err != nil {
			_ = tx.Rollback()
			return errkind.Wrap(errkind.Internal, false, "semantic: record migration "+entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return errkind.Wrap(errkind.Internal, false, "semantic: commit migration "+entry.Name(), err)
		}
	}
	return nil
}
