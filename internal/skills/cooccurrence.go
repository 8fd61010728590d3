package skills

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/vecutil"
)

// canonicalPair orders two skill ids so (s1, s2) is stored once regardless
// of invocation order (spec §4.5: "normalize the pair by id ordering").
func canonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// RecordCoOccurrence upserts the co-occurrence edge between two skills,
// incrementing its count. Once the count reaches threshold, the relational
// vector (emb(s2) - emb(s1)) is materialized if both embeddings are present.
func (l *Library) RecordCoOccurrence(ctx context.Context, s1, s2 uuid.UUID, threshold int) error {
	if s1 == s2 {
		return errkind.New(errkind.InvalidInput, false, "skills: cannot record co-occurrence of a skill with itself")
	}
	if threshold <= 0 {
		threshold = CoOccurrenceThreshold
	}
	id1, id2 := canonicalPair(s1, s2)

	count, err := l.incrementCoOccurrence(ctx, id1, id2)
	if err != nil {
		return err
	}
	if count < threshold {
		return nil
	}

	skA, err := l.LoadFull(ctx, id1)
	if err != nil {
		return err
	}
	skB, err := l.LoadFull(ctx, id2)
	if err != nil {
		return err
	}
	if len(skA.Embedding) == 0 || len(skB.Embedding) == 0 {
		return nil
	}

	vector := vecutil.Sub(skB.Embedding, skA.Embedding)
	blob, err := vecutil.EncodeBlob(vector)
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "skills: encode relational vector", err)
	}
	_, err = l.db.ExecContext(ctx, `UPDATE skill_relationships SET relational_vector = ? WHERE skill_id_1 = ? AND skill_id_2 = ?`,
		blob, id1.String(), id2.String())
	if err != nil {
		return errkind.Wrap(errkind.Internal, false, "skills: materialize relational vector", err)
	}
	return nil
}

// RefreshRelationalVectors materializes any relational vector left
// pending because its skills' embeddings weren't available at threshold
// time (consolidation §4.7 phase 7: "recompute stale relational vectors").
func (l *Library) RefreshRelationalVectors(ctx context.Context, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = CoOccurrenceThreshold
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT skill_id_1, skill_id_2 FROM skill_relationships
		WHERE co_occurrence_count >= ? AND relational_vector IS NULL`, threshold)
	if err != nil {
		return 0, errkind.Wrap(errkind.Internal, false, "skills: list stale relational vectors", err)
	}
	var pairs [][2]uuid.UUID
	for rows.Next() {
		var s1, s2 string
		if err := rows.Scan(&s1, &s2); err != nil {
			rows.Close()
			return 0, errkind.Wrap(errkind.Internal, false, "skills: scan stale pair", err)
		}
		id1, err := uuid.Parse(s1)
		if err != nil {
			continue
		}
		id2, err := uuid.Parse(s2)
		if err != nil {
			continue
		}
		pairs = append(pairs, [2]uuid.UUID{id1, id2})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var refreshed int
	for _, pair := range pairs {
		skA, err := l.LoadFull(ctx, pair[0])
		if err != nil || len(skA.Embedding) == 0 {
			continue
		}
		skB, err := l.LoadFull(ctx, pair[1])
		if err != nil || len(skB.Embedding) == 0 {
			continue
		}
		blob, err := vecutil.EncodeBlob(vecutil.Sub(skB.Embedding, skA.Embedding))
		if err != nil {
			continue
		}
		if _, err := l.db.ExecContext(ctx, `UPDATE skill_relationships SET relational_vector = ? WHERE skill_id_1 = ? AND skill_id_2 = ?`,
			blob, pair[0].String(), pair[1].String()); err != nil {
			return refreshed, errkind.Wrap(errkind.Internal, false, "skills: refresh relational vector", err)
		}
		refreshed++
	}
	return refreshed, nil
}

func (l *Library) incrementCoOccurrence(ctx context.Context, id1, id2 uuid.UUID) (int, error) {
	row := l.db.QueryRowContext(ctx, `SELECT co_occurrence_count FROM skill_relationships WHERE skill_id_1 = ? AND skill_id_2 = ?`,
		id1.String(), id2.String())
	var count int
	err := row.Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := l.db.ExecContext(ctx, `INSERT INTO skill_relationships (skill_id_1, skill_id_2, co_occurrence_count) VALUES (?, ?, 1)`,
			id1.String(), id2.String()); err != nil {
			return 0, errkind.Wrap(errkind.Internal, false, "skills: insert co-occurrence", err)
		}
		return 1, nil
	case err != nil:
		return 0, errkind.Wrap(errkind.Internal, false, "skills: read co-occurrence", err)
	}

	count++
	if _, err := l.db.ExecContext(ctx, `UPDATE skill_relationships SET co_occurrence_count = ? WHERE skill_id_1 = ? AND skill_id_2 = ?`,
		count, id1.String(), id2.String()); err != nil {
		return 0, errkind.Wrap(errkind.Internal, false, "skills: update co-occurrence", err)
	}
	return count, nil
}
