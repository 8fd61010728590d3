package semantic

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// DefaultBackupTTL is how long a consolidation backup record is retained
// before it is eligible for pruning (spec §3.8: default +7 days).
const DefaultBackupTTL = 7 * 24 * time.Hour

// InsertBackupMetadata records a point-in-time consolidation/backup summary.
func (s *Store) InsertBackupMetadata(ctx context.Context, b model.BackupMetadata) (model.BackupMetadata, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.BackupTimestamp.IsZero() {
		b.BackupTimestamp = time.Now().UTC()
	}
	if b.ExpiresAt.IsZero() {
		b.ExpiresAt = b.BackupTimestamp.Add(DefaultBackupTTL)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_metadata (id, namespace, backup_timestamp, backup_type, status, memory_count, entity_count, relationship_count, expires_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Namespace, formatTime(b.BackupTimestamp), string(b.BackupType), b.Status,
		b.MemoryCount, b.EntityCount, b.RelationshipCount, formatTime(b.ExpiresAt), b.Notes,
	)
	if err != nil {
		return model.BackupMetadata{}, errkind.Wrap(errkind.Internal, false, "semantic: insert backup metadata", err)
	}
	return b, nil
}

// ListBackupMetadata returns every backup record for namespace, most recent first.
func (s *Store) ListBackupMetadata(ctx context.Context, namespace string) ([]model.BackupMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, backup_timestamp, backup_type, status, memory_count, entity_count, relationship_count, expires_at, notes
		FROM backup_metadata WHERE namespace = ? ORDER BY backup_timestamp DESC`, namespace)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list backup metadata", err)
	}
	defer rows.Close()

	var out []model.BackupMetadata
	for rows.Next() {
		var (
			b                      model.BackupMetadata
			id                     string
			backupType             string
			backupTimestamp, exp   string
		)
		if err := rows.Scan(&id, &b.Namespace, &backupTimestamp, &backupType, &b.Status, &b.MemoryCount, &b.EntityCount, &b.RelationshipCount, &exp, &b.Notes); err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan backup metadata", err)
		}
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		b.BackupType = model.BackupType(backupType)
		if b.BackupTimestamp, err = parseTime(backupTimestamp); err != nil {
			return nil, err
		}
		if b.ExpiresAt, err = parseTime(exp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LastConsolidationTimestamp returns the most recent consolidation backup
// timestamp across every namespace, used by the scheduler to decide
// whether a missed tick needs a catch-up run.
func (s *Store) LastConsolidationTimestamp(ctx context.Context) (time.Time, bool, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(backup_timestamp) FROM backup_metadata WHERE backup_type = ?`,
		string(model.BackupConsolidation)).Scan(&ts)
	if err != nil {
		return time.Time{}, false, errkind.Wrap(errkind.Internal, false, "semantic: last consolidation timestamp", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(ts.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
