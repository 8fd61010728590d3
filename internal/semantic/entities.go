package semantic

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// UpsertEntity inserts a new entity or updates an existing one by id. An
// entity given without an id resolves to the existing entity with the same
// namespace, name, and type when there is one; that entity is returned
// unchanged.
func (s *Store) UpsertEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	if e.Name == "" {
		return model.Entity{}, errkind.New(errkind.InvalidInput, false, "semantic: entity name must not be empty")
	}
	if e.Namespace == "" {
		return model.Entity{}, errkind.New(errkind.InvalidInput, false, "semantic: entity namespace must not be empty")
	}
	now := time.Now().UTC()
	if e.ID == uuid.Nil {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, namespace, name, type, description, confidence, created_at, last_accessed, access_count
			FROM entities WHERE namespace = ? AND name = ? AND type = ?`, e.Namespace, e.Name, string(e.Type))
		existing, err := scanEntity(row)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Entity{}, errkind.Wrap(errkind.Internal, false, "semantic: look up entity", err)
		}
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessed.IsZero() {
		e.LastAccessed = now
	}
	if e.Confidence == 0 {
		e.Confidence = 1.0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, namespace, name, type, description, confidence, created_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, description=excluded.description,
			confidence=excluded.confidence, last_accessed=excluded.last_accessed, access_count=excluded.access_count`,
		e.ID.String(), e.Namespace, e.Name, string(e.Type), e.Description, e.Confidence,
		formatTime(e.CreatedAt), formatTime(e.LastAccessed), e.AccessCount,
	)
	if err != nil {
		return model.Entity{}, errkind.Wrap(errkind.Internal, false, "semantic: upsert entity", err)
	}
	return e, nil
}

// GetEntityByName looks up an entity by exact name within a namespace.
func (s *Store) GetEntityByName(ctx context.Context, namespace, name string) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, name, type, description, confidence, created_at, last_accessed, access_count
		FROM entities WHERE namespace = ? AND name = ?`, namespace, name)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entity{}, errkind.New(errkind.NotFound, false, "semantic: entity not found")
	}
	if err != nil {
		return model.Entity{}, errkind.Wrap(errkind.Internal, false, "semantic: get entity by name", err)
	}
	return e, nil
}

// GetEntityByID looks up an entity by id.
func (s *Store) GetEntityByID(ctx context.Context, id uuid.UUID) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, name, type, description, confidence, created_at, last_accessed, access_count
		FROM entities WHERE id = ?`, id.String())
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entity{}, errkind.New(errkind.NotFound, false, "semantic: entity not found")
	}
	if err != nil {
		return model.Entity{}, errkind.Wrap(errkind.Internal, false, "semantic: get entity by id", err)
	}
	return e, nil
}

// TouchEntity bumps access_count and last_accessed, used whenever PPR or a
// query path visits the entity.
func (s *Store) TouchEntity(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE entities SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		formatTime(time.Now()), id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: touch entity", err)
	}
	return nil
}

// DeleteEntity removes an entity by id. Callers are responsible for
// removing the entity's relationships and facts first (DeleteRelationship,
// DeleteFact); nothing cascades.
func (s *Store) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: delete entity", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errkind.New(errkind.NotFound, false, "semantic: entity not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (model.Entity, error) {
	var (
		e                      model.Entity
		id                     string
		entType                string
		createdAt, lastAccess  string
	)
	if err := row.Scan(&id, &e.Namespace, &e.Name, &entType, &e.Description, &e.Confidence, &createdAt, &lastAccess, &e.AccessCount); err != nil {
		return model.Entity{}, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return model.Entity{}, err
	}
	e.ID = parsedID
	e.Type = model.EntityType(entType)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Entity{}, err
	}
	if e.LastAccessed, err = parseTime(lastAccess); err != nil {
		return model.Entity{}, err
	}
	return e, nil
}
