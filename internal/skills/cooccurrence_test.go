package skills

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/vecutil"
)

func readCoOccurrence(t *testing.T, db *sql.DB, id1, id2 string) (int, []byte) {
	t.Helper()
	row := db.QueryRow(`SELECT co_occurrence_count, relational_vector FROM skill_relationships WHERE skill_id_1 = ? AND skill_id_2 = ?`, id1, id2)
	var count int
	var vec []byte
	require.NoError(t, row.Scan(&count, &vec))
	return count, vec
}

func TestRecordCoOccurrenceIncrementsAndCanonicalizesPair(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	dataAnalysis := mustSkill(t, l, "default", "DataAnalysis", "data", nil)
	dataViz := mustSkill(t, l, "default", "DataVisualization", "data", nil)

	id1, id2 := canonicalPair(dataAnalysis.ID, dataViz.ID)

	require.NoError(t, l.RecordCoOccurrence(ctx, dataViz.ID, dataAnalysis.ID, CoOccurrenceThreshold))
	count, vec := readCoOccurrence(t, l.db, id1.String(), id2.String())
	assert.Equal(t, 1, count)
	assert.Nil(t, vec)

	require.NoError(t, l.RecordCoOccurrence(ctx, dataAnalysis.ID, dataViz.ID, CoOccurrenceThreshold))
	count, _ = readCoOccurrence(t, l.db, id1.String(), id2.String())
	assert.Equal(t, 2, count)
}

func TestRecordCoOccurrenceMaterializesRelationalVectorAtThreshold(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	dataAnalysis := mustSkillWithEmbedding(t, l, "default", "DataAnalysis", "data", nil, unitVector(1.0))
	dataViz := mustSkillWithEmbedding(t, l, "default", "DataVisualization", "data", nil, unitVector(2.0))

	id1, id2 := canonicalPair(dataAnalysis.ID, dataViz.ID)

	require.NoError(t, l.RecordCoOccurrence(ctx, dataAnalysis.ID, dataViz.ID, 2))
	require.NoError(t, l.RecordCoOccurrence(ctx, dataAnalysis.ID, dataViz.ID, 2))
	require.NoError(t, l.RecordCoOccurrence(ctx, dataAnalysis.ID, dataViz.ID, 2))

	count, vecBlob := readCoOccurrence(t, l.db, id1.String(), id2.String())
	assert.Equal(t, 3, count)
	require.NotNil(t, vecBlob)

	vec, err := vecutil.DecodeBlob(vecBlob)
	require.NoError(t, err)

	skA, err := l.LoadFull(ctx, id1)
	require.NoError(t, err)
	skB, err := l.LoadFull(ctx, id2)
	require.NoError(t, err)
	want := vecutil.Sub(skB.Embedding, skA.Embedding)
	for i := range want {
		assert.InDelta(t, want[i], vec[i], 1e-6)
	}
}

func TestRecordCoOccurrenceRejectsSelfPair(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	sk := mustSkill(t, l, "default", "solo_skill", "ops", nil)

	err := l.RecordCoOccurrence(ctx, sk.ID, sk.ID, CoOccurrenceThreshold)
	assert.Error(t, err)
}
