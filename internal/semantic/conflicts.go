package semantic

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// InsertConflict writes a conflict record. The unique (fact_id_1, fact_id_2,
// conflict_type) constraint makes repeated detector runs idempotent: a
// duplicate insert is reported as "already recorded", not an error, so
// callers (the detector) can treat it as a no-op.
func (s *Store) InsertConflict(ctx context.Context, c model.Conflict) (model.Conflict, bool, error) {
	if c.FactID1 == uuid.Nil || c.FactID2 == uuid.Nil {
		return model.Conflict{}, false, errkind.New(errkind.InvalidInput, false, "semantic: conflict requires two facts")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	if c.ResolutionStatus == "" {
		c.ResolutionStatus = model.ResolutionOpen
	}

	f1, f2 := c.FactID1, c.FactID2
	if f2.String() < f1.String() {
		f1, f2 = f2, f1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, namespace, fact_id_1, fact_id_2, conflict_type, description, severity, resolution_status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Namespace, f1.String(), f2.String(), string(c.ConflictType), c.Description,
		string(c.Severity), string(c.ResolutionStatus), formatTime(c.DetectedAt),
	)
	if isUniqueViolation(err) {
		existing, getErr := s.getConflictByPair(ctx, f1, f2, c.ConflictType)
		if getErr != nil {
			return model.Conflict{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Conflict{}, false, errkind.Wrap(errkind.Internal, false, "semantic: insert conflict", err)
	}
	c.FactID1, c.FactID2 = f1, f2
	return c, true, nil
}

// isUniqueViolation reports whether err came from the (fact_id_1, fact_id_2,
// conflict_type) UNIQUE constraint. modernc.org/sqlite wraps SQLite's
// "UNIQUE constraint failed" message rather than exposing a typed
// constraint-kind error, so we match on that message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) getConflictByPair(ctx context.Context, f1, f2 uuid.UUID, conflictType model.ConflictType) (model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, fact_id_1, fact_id_2, conflict_type, description, severity, resolution_status, detected_at
		FROM conflicts WHERE fact_id_1 = ? AND fact_id_2 = ? AND conflict_type = ?`,
		f1.String(), f2.String(), string(conflictType))
	return scanConflict(row)
}

// ListConflicts returns every conflict recorded in namespace.
func (s *Store) ListConflicts(ctx context.Context, namespace string) ([]model.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, fact_id_1, fact_id_2, conflict_type, description, severity, resolution_status, detected_at
		FROM conflicts WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list conflicts", err)
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan conflict", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountConflicts reports the total conflict row count for a namespace, used
// by consolidation idempotence checks.
func (s *Store) CountConflicts(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, errkind.Wrap(errkind.Internal, false, "semantic: count conflicts", err)
	}
	return n, nil
}

func scanConflict(row rowScanner) (model.Conflict, error) {
	var (
		c                      model.Conflict
		id, f1, f2             string
		conflictType, severity string
		resolution             string
		detectedAt             string
	)
	if err := row.Scan(&id, &c.Namespace, &f1, &f2, &conflictType, &c.Description, &severity, &resolution, &detectedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Conflict{}, errkind.New(errkind.NotFound, false, "semantic: conflict not found")
		}
		return model.Conflict{}, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return model.Conflict{}, err
	}
	if c.FactID1, err = uuid.Parse(f1); err != nil {
		return model.Conflict{}, err
	}
	if c.FactID2, err = uuid.Parse(f2); err != nil {
		return model.Conflict{}, err
	}
	c.ConflictType = model.ConflictType(conflictType)
	c.Severity = model.ConflictSeverity(severity)
	c.ResolutionStatus = model.ResolutionStatus(resolution)
	if c.DetectedAt, err = parseTime(detectedAt); err != nil {
		return model.Conflict{}, err
	}
	return c, nil
}
