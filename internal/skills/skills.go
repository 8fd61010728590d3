// Package skills implements the Skill Library (C5): lazy-loaded procedural
// patterns, invocation detection, embedding-augmented and analogical search,
// and co-occurrence tracking. It shares the semantic tier's SQLite
// connection — skills are schema-adjacent tables, not a separate store.
package skills

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/vecutil"
)

// CoOccurrenceThreshold is the default count at which a relational vector
// is materialized between two skills (spec §4.5: "default 2").
const CoOccurrenceThreshold = 2

// Library is the Skill Library contract, backed by the semantic store's db.
type Library struct {
	db *sql.DB
}

// New wraps the given database handle (shared with internal/semantic.Store).
func New(db *sql.DB) *Library {
	return &Library{db: db}
}

// Summary is the lightweight row returned by Summaries (≈50 tokens each).
type Summary struct {
	ID           uuid.UUID
	Name         string
	Summary      string
	Category     string
	QualityScore float64
}

// Summaries returns lightweight rows ranked by quality_score DESC,
// satisfaction DESC, success DESC, then name, optionally filtered by category.
func (l *Library) Summaries(ctx context.Context, namespace string, limit int, category string) ([]Summary, error) {
	query := `
		SELECT id, name, summary, category, success_count, failure_count, avg_user_satisfaction
		FROM skills WHERE namespace = ? AND is_archived = 0`
	args := []any{namespace}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, false, "skills: list summaries", err)
	}
	defer rows.Close()

	type tiebreak struct {
		satisfaction float64
		success      int
	}
	ties := make(map[uuid.UUID]tiebreak)
	var out []Summary
	for rows.Next() {
		var (
			id                           string
			name, summary, cat           string
			success, failure             int
			satisfaction                 float64
		)
		if err := rows.Scan(&id, &name, &summary, &cat, &success, &failure, &satisfaction); err != nil {
			return nil, errkind.Wrap(errkind.Internal, false, "skills: scan summary", err)
		}
		parsedID, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		quality := model.Skill{SuccessCount: success, FailureCount: failure, AvgUserSatisfaction: satisfaction}.QualityScore()
		out = append(out, Summary{ID: parsedID, Name: name, Summary: summary, Category: cat, QualityScore: quality})
		ties[parsedID] = tiebreak{satisfaction: satisfaction, success: success}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		ti, tj := ties[out[i].ID], ties[out[j].ID]
		if ti.satisfaction != tj.satisfaction {
			return ti.satisfaction > tj.satisfaction
		}
		if ti.success != tj.success {
			return ti.success > tj.success
		}
		return out[i].Name < out[j].Name
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadFull returns the complete skill record.
func (l *Library) LoadFull(ctx context.Context, id uuid.UUID) (model.Skill, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, namespace, name, summary, description, category, triggers, success_count, failure_count,
		       avg_user_satisfaction, code, code_type, prerequisites, uses_skills, used_by_skills, embedding,
		       is_archived, created_at, last_modified, last_used, version
		FROM skills WHERE id = ?`, id.String())
	sk, err := scanSkill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Skill{}, errkind.New(errkind.NotFound, false, "skills: skill not found")
	}
	if err != nil {
		return model.Skill{}, errkind.Wrap(errkind.Internal, false, "skills: load skill", err)
	}
	return sk, nil
}

// UpsertSkill inserts or updates a skill record.
func (l *Library) UpsertSkill(ctx context.Context, s model.Skill) (model.Skill, error) {
	if s.Name == "" {
		return model.Skill{}, errkind.New(errkind.InvalidInput, false, "skills: name must not be empty")
	}
	now := time.Now().UTC()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastModified = now
	if s.Version == 0 {
		s.Version = 1
	}
	if s.CodeType == "" {
		s.CodeType = model.CodeInline
	}

	triggers, _ := json.Marshal(s.Triggers)
	prereqs, _ := json.Marshal(s.Prerequisites)
	uses, _ := json.Marshal(s.UsesSkills)
	usedBy, _ := json.Marshal(s.UsedBySkills)

	var embeddingBlob []byte
	if len(s.Embedding) > 0 {
		var err error
		embeddingBlob, err = vecutil.EncodeBlob(s.Embedding)
		if err != nil {
			return model.Skill{}, errkind.Wrap(errkind.InvalidInput, false, "skills: encode embedding", err)
		}
	}

	var lastUsed any
	if s.LastUsed != nil {
		lastUsed = s.LastUsed.UTC().Format(time.RFC3339Nano)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO skills (id, namespace, name, summary, description, category, triggers, success_count, failure_count,
		                    avg_user_satisfaction, code, code_type, prerequisites, uses_skills, used_by_skills, embedding,
		                    is_archived, created_at, last_modified, last_used, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, summary=excluded.summary, description=excluded.description, category=excluded.category,
			triggers=excluded.triggers, success_count=excluded.success_count, failure_count=excluded.failure_count,
			avg_user_satisfaction=excluded.avg_user_satisfaction, code=excluded.code, code_type=excluded.code_type,
			prerequisites=excluded.prerequisites, uses_skills=excluded.uses_skills, used_by_skills=excluded.used_by_skills,
			embedding=excluded.embedding, is_archived=excluded.is_archived, last_modified=excluded.last_modified,
			last_used=excluded.last_used, version=excluded.version`,
		s.ID.String(), s.Namespace, s.Name, s.Summary, s.Description, s.Category, string(triggers),
		s.SuccessCount, s.FailureCount, s.AvgUserSatisfaction, s.Code, string(s.CodeType), string(prereqs),
		string(uses), string(usedBy), embeddingBlob, boolToInt(s.IsArchived),
		s.CreatedAt.UTC().Format(time.RFC3339Nano), s.LastModified.UTC().Format(time.RFC3339Nano), lastUsed, s.Version,
	)
	if err != nil {
		return model.Skill{}, errkind.Wrap(errkind.Internal, false, "skills: upsert skill", err)
	}
	return s, nil
}

// RecordSuccess bumps success_count (and satisfaction, if given) and marks
// the skill as just-used.
func (l *Library) RecordSuccess(ctx context.Context, id uuid.UUID, satisfaction *float64) (model.Skill, error) {
	sk, err := l.LoadFull(ctx, id)
	if err != nil {
		return model.Skill{}, err
	}
	sk.SuccessCount++
	if satisfaction != nil {
		sk.AvgUserSatisfaction = runningAverage(sk.AvgUserSatisfaction, sk.SuccessCount+sk.FailureCount-1, *satisfaction)
	}
	now := time.Now().UTC()
	sk.LastUsed = &now
	return l.UpsertSkill(ctx, sk)
}

// RecordFailure bumps failure_count.
func (l *Library) RecordFailure(ctx context.Context, id uuid.UUID) (model.Skill, error) {
	sk, err := l.LoadFull(ctx, id)
	if err != nil {
		return model.Skill{}, err
	}
	sk.FailureCount++
	now := time.Now().UTC()
	sk.LastUsed = &now
	return l.UpsertSkill(ctx, sk)
}

func runningAverage(current float64, priorCount int, next float64) float64 {
	if priorCount <= 0 {
		return next
	}
	return (current*float64(priorCount) + next) / float64(priorCount+1)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanSkill(row interface{ Scan(dest ...any) error }) (model.Skill, error) {
	var (
		sk                                    model.Skill
		id, namespace                         string
		triggersJSON, prereqsJSON             string
		usesJSON, usedByJSON                  string
		codeType                              string
		embeddingBlob                         []byte
		isArchived                            int
		createdAt, lastModified               string
		lastUsed                              sql.NullString
	)
	if err := row.Scan(&id, &namespace, &sk.Name, &sk.Summary, &sk.Description, &sk.Category, &triggersJSON,
		&sk.SuccessCount, &sk.FailureCount, &sk.AvgUserSatisfaction, &sk.Code, &codeType, &prereqsJSON,
		&usesJSON, &usedByJSON, &embeddingBlob, &isArchived, &createdAt, &lastModified, &lastUsed, &sk.Version); err != nil {
		return model.Skill{}, err
	}

	var err error
	if sk.ID, err = uuid.Parse(id); err != nil {
		return model.Skill{}, err
	}
	sk.Namespace = namespace
	sk.CodeType = model.CodeType(codeType)
	sk.IsArchived = isArchived != 0

	if err := json.Unmarshal([]byte(triggersJSON), &sk.Triggers); err != nil {
		return model.Skill{}, err
	}
	if err := json.Unmarshal([]byte(prereqsJSON), &sk.Prerequisites); err != nil {
		return model.Skill{}, err
	}
	if err := json.Unmarshal([]byte(usesJSON), &sk.UsesSkills); err != nil {
		return model.Skill{}, err
	}
	if err := json.Unmarshal([]byte(usedByJSON), &sk.UsedBySkills); err != nil {
		return model.Skill{}, err
	}
	if len(embeddingBlob) > 0 {
		vec, err := vecutil.DecodeBlob(embeddingBlob)
		if err != nil {
			return model.Skill{}, err
		}
		sk.Embedding = vec
	}
	if sk.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Skill{}, err
	}
	if sk.LastModified, err = time.Parse(time.RFC3339Nano, lastModified); err != nil {
		return model.Skill{}, err
	}
	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastUsed.String)
		if err != nil {
			return model.Skill{}, err
		}
		sk.LastUsed = &t
	}
	return sk, nil
}
