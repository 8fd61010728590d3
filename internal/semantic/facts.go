package semantic

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// UpsertFact inserts a new fact or updates an existing one by id.
func (s *Store) UpsertFact(ctx context.Context, f model.Fact) (model.Fact, error) {
	if f.EntityID == uuid.Nil {
		return model.Fact{}, errkind.New(errkind.InvalidInput, false, "semantic: fact requires an entity")
	}
	if f.Property == "" {
		return model.Fact{}, errkind.New(errkind.InvalidInput, false, "semantic: fact property must not be empty")
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.ValidFrom.IsZero() {
		f.ValidFrom = time.Now().UTC()
	}
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}

	var sourceConv any
	if f.SourceConversation != nil {
		sourceConv = f.SourceConversation.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, namespace, entity_id, property, value, confidence, valid_from, valid_until, source_conversation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value=excluded.value, confidence=excluded.confidence, valid_until=excluded.valid_until`,
		f.ID.String(), f.Namespace, f.EntityID.String(), f.Property, f.Value, f.Confidence,
		formatTime(f.ValidFrom), formatTimePtr(f.ValidUntil), sourceConv,
	)
	if err != nil {
		return model.Fact{}, errkind.Wrap(errkind.Internal, false, "semantic: upsert fact", err)
	}
	return f, nil
}

// ListFacts returns every fact recorded against entityID.
func (s *Store) ListFacts(ctx context.Context, entityID uuid.UUID) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, entity_id, property, value, confidence, valid_from, valid_until, source_conversation
		FROM facts WHERE entity_id = ?`, entityID.String())
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list facts", err)
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan fact", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFactsInNamespace returns every fact in namespace, used by the
// conflict detector and consolidation pipeline.
func (s *Store) ListFactsInNamespace(ctx context.Context, namespace string) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, entity_id, property, value, confidence, valid_from, valid_until, source_conversation
		FROM facts WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: list facts in namespace", err)
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan fact", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFact fetches a single fact by id.
func (s *Store) GetFact(ctx context.Context, id uuid.UUID) (model.Fact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, entity_id, property, value, confidence, valid_from, valid_until, source_conversation
		FROM facts WHERE id = ?`, id.String())
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Fact{}, errkind.New(errkind.NotFound, false, "semantic: fact not found")
	}
	if err != nil {
		return model.Fact{}, errkind.Wrap(errkind.Internal, false, "semantic: get fact", err)
	}
	return f, nil
}

// SetFactConfidence lowers (or sets) a fact's confidence — the only mutation
// the conflict detector is permitted to perform.
func (s *Store) SetFactConfidence(ctx context.Context, id uuid.UUID, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE facts SET confidence = ? WHERE id = ?`, confidence, id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: set fact confidence", err)
	}
	return nil
}

// DeleteFact removes a fact by id.
func (s *Store) DeleteFact(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "semantic: delete fact", err)
	}
	return nil
}

// PreferenceEntityScore pairs a preference entity with its ranked score.
type PreferenceEntityScore struct {
	Entity model.Entity
	Score  float64
}

// PreferenceQuery returns preference-typed entities matching topic, ranked
// by base confidence times temporal decay of their most recent fact
// (spec §4.4: "ranking = base × temporal decay").
func (s *Store) PreferenceQuery(ctx context.Context, namespace, topic string) ([]PreferenceEntityScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, name, type, description, confidence, created_at, last_accessed, access_count
		FROM entities WHERE namespace = ? AND type = ? AND name LIKE ?`,
		namespace, string(model.EntityPreference), "%"+topic+"%")
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "semantic: preference query", err)
	}
	defer rows.Close()

	var results []PreferenceEntityScore
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "semantic: scan preference entity", err)
		}
		facts, err := s.ListFacts(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		score := e.Confidence * decayFactor(mostRecentFactTime(facts))
		results = append(results, PreferenceEntityScore{Entity: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func mostRecentFactTime(facts []model.Fact) time.Time {
	var latest time.Time
	for _, f := range facts {
		if f.ValidFrom.After(latest) {
			latest = f.ValidFrom
		}
	}
	return latest
}

// decayFactor applies the consolidation decay curve (exp(-Δdays/30)) as a
// read-time ranking weight, without mutating stored confidence.
func decayFactor(t time.Time) float64 {
	if t.IsZero() {
		return 1.0
	}
	days := time.Since(t).Hours() / 24
	return math.Exp(-days / 30)
}

func scanFact(row rowScanner) (model.Fact, error) {
	var (
		f                       model.Fact
		id, entityID            string
		validFrom               string
		validUntil, sourceConv  sql.NullString
	)
	if err := row.Scan(&id, &f.Namespace, &entityID, &f.Property, &f.Value, &f.Confidence, &validFrom, &validUntil, &sourceConv); err != nil {
		return model.Fact{}, err
	}
	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return model.Fact{}, err
	}
	if f.EntityID, err = uuid.Parse(entityID); err != nil {
		return model.Fact{}, err
	}
	if f.ValidFrom, err = parseTime(validFrom); err != nil {
		return model.Fact{}, err
	}
	if validUntil.Valid {
		t, err := parseTime(validUntil.String)
		if err != nil {
			return model.Fact{}, err
		}
		f.ValidUntil = &t
	}
	if sourceConv.Valid {
		id, err := uuid.Parse(sourceConv.String)
		if err != nil {
			return model.Fact{}, err
		}
		f.SourceConversation = &id
	}
	return f, nil
}
