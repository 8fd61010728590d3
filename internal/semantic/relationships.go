package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// ReinforcementIncrement is the strength bump on reinforcement (spec §4.4).
// UpsertRelationship always uses this constant;
// config.Tuning.ReinforcementIncrement is not applied here.
const ReinforcementIncrement = 0.2

// UpsertRelationship inserts a new relationship or, if one already exists
// between the same source/target/type, reinforces it: strength is bumped
// (capped at 1) and last_reinforced/evidence are updated.
func (s *Store) UpsertRelationship(ctx context.Context, r model.Relationship) (model.Relationship, error) {
	if r.SourceID == uuid.Nil || r.TargetID == uuid.Nil {
		return model.Relationship{}, errkind.New(errkind.InvalidInput, false, "semantic: relationship requires source and target entities")
	}
	if r.RelationType == "" {
		return model.Relationship{}, errkind.New(errkind.InvalidInput, false, "semantic: relationship type must not be empty")
	}

	existing, err := s.findRelationship(ctx, r.Namespace, r.SourceID, r.TargetID, r.RelationType)
	now := time.Now().UTC()
	if err == nil {
		existing.Strength = min(1.0, existing.Strength+ReinforcementIncrement)
		existing.LastReinforced = now
		existing.Evidence = mergeEvidence(existing.Evidence, r.Evidence)
		return existing, s.saveRelationship(ctx, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Relationship{}, errkind.Wrap(errkind.Internal, false, "semantic: lookup relationship", err)
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Strength == 0 {
		r.Strength = 1.0
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.LastReinforced.IsZero() {
		r.LastReinforced = now
	}
	return r, s.saveRelationship(ctx, r)
}

func mergeEvidence(existing, incoming []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(existing))
	out := append([]uuid.UUID{}, existing...)
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range incoming {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

func (s *Store) findRelationship(ctx context.Context, namespace string, source, target uuid.UUID, relType string) (model.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, source_id, target_id, relation_type, strength, evidence, created_at, last_reinforced
		FROM relationships WHERE namespace = ? AND source_id = ? AND target_id = ? AND relation_type = ?`,
		namespace, source.String(), target.String(), relType)
	return scanRelationship(row)
}

func (s *Store) saveRelationship(ctx context.Context, r model.Relationship) error {
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: marshal evidence", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, namespace, source_id, target_id, relation_type, strength, evidence, created_at, last_reinforced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET strength=excluded.strength, evidence=excluded.evidence, last_reinforced=excluded.last_reinforced`,
		r.ID.String(), r.Namespace, r.SourceID.String(), r.TargetID.String(), r.RelationType, r.Strength,
		string(evidence), formatTime(r.CreatedAt), formatTime(r.LastReinforced),
	)
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: save relationship", err)
	}
	return nil
}

// ListRelationships returns every relationship in namespace, used by PPR's
// adjacency build and the consolidation decay/prune phases.
func (s *Store) ListRelationships(ctx context.Context, namespace string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, source_id, target_id, relation_type, strength, evidence, created_at, last_reinforced
		FROM relationships WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list relationships", err)
	}
	defer rows.Close()

	var out []model.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan relationship", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateStrength persists a relationship's decayed/pruned strength directly,
// used by the consolidation pipeline's decay phase.
func (s *Store) UpdateStrength(ctx context.Context, id uuid.UUID, strength float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE relationships SET strength = ? WHERE id = ?`, strength, id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: update relationship strength", err)
	}
	return nil
}

// DeleteRelationship removes a relationship by id (used by pruning).
func (s *Store) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: delete relationship", err)
	}
	return nil
}

func scanRelationship(row rowScanner) (model.Relationship, error) {
	var (
		r                       model.Relationship
		id, sourceID, targetID  string
		evidenceJSON            string
		createdAt, lastReinf    string
	)
	if err := row.Scan(&id, &r.Namespace, &sourceID, &targetID, &r.RelationType, &r.Strength, &evidenceJSON, &createdAt, &lastReinf); err != nil {
		return model.Relationship{}, err
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return model.Relationship{}, err
	}
	if r.SourceID, err = uuid.Parse(sourceID); err != nil {
		return model.Relationship{}, err
	}
	if r.TargetID, err = uuid.Parse(targetID); err != nil {
		return model.Relationship{}, err
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &r.Evidence); err != nil {
		return model.Relationship{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Relationship{}, err
	}
	if r.LastReinforced, err = parseTime(lastReinf); err != nil {
		return model.Relationship{}, err
	}
	return r, nil
}
