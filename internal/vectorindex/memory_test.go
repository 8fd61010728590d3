package vectorindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexUpsertAndSearch(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.InitCollection(ctx, "conversations", 3))

	a := uuid.New()
	b := uuid.New()
	require.NoError(t, idx.Upsert(ctx, "conversations", Point{ID: a, Vector: []float32{1, 0, 0}, Payload: map[string]any{"tag": "a"}}))
	require.NoError(t, idx.Upsert(ctx, "conversations", Point{ID: b, Vector: []float32{0, 1, 0}, Payload: map[string]any{"tag": "b"}}))

	results, err := idx.Search(ctx, "conversations", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestMemoryIndexUnknownCollection(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	_, err := idx.Search(ctx, "missing", []float32{1}, 1)
	assert.Error(t, err)
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.InitCollection(ctx, "skills", 3))
	err := idx.Upsert(ctx, "skills", Point{ID: uuid.New(), Vector: []float32{1, 2}})
	assert.Error(t, err)
}

func TestMemoryIndexDeleteAndStats(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.InitCollection(ctx, "conversations", 2))
	id := uuid.New()
	require.NoError(t, idx.Upsert(ctx, "conversations", Point{ID: id, Vector: []float32{1, 1}}))

	stats, err := idx.Stats(ctx, "conversations")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Points)

	require.NoError(t, idx.Delete(ctx, "conversations", id))
	stats, err = idx.Stats(ctx, "conversations")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Points)
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("skills_v1"))
	assert.Error(t, ValidateCollectionName("bad name!"))
	assert.Error(t, ValidateCollectionName(""))
}
