package conflicts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/semantic"
)

func newTestStore(t *testing.T) *semantic.Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := semantic.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDetectorPreferenceOverride(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := New(s)

	e, err := s.UpsertEntity(ctx, model.Entity{Namespace: "default", Name: "language_preference", Type: model.EntityPreference})
	require.NoError(t, err)

	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "TypeScript",
		Confidence: 0.9, ValidFrom: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "Rust",
		Confidence: 0.9, ValidFrom: time.Now()})
	require.NoError(t, err)

	result, err := d.Run(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ConflictsDetected)

	conflicts, err := s.ListConflicts(ctx, "default")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictPreferenceShift, conflicts[0].ConflictType)

	facts, err := s.ListFacts(ctx, e.ID)
	require.NoError(t, err)
	for _, f := range facts {
		assert.LessOrEqual(t, f.Confidence, MaxConfidenceAfterConflict)
	}
}

func TestDetectorTemporalContradiction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := New(s)

	e, err := s.UpsertEntity(ctx, model.Entity{Namespace: "default", Name: "target_latency", Type: model.EntityConcept})
	require.NoError(t, err)

	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "200ms",
		Confidence: 1.0, ValidFrom: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "500ms",
		Confidence: 1.0, ValidFrom: time.Now()})
	require.NoError(t, err)

	result, err := d.Run(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ConflictsDetected)

	conflicts, err := s.ListConflicts(ctx, "default")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictContradiction, conflicts[0].ConflictType)

	facts, err := s.ListFacts(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	for _, f := range facts {
		assert.LessOrEqual(t, f.Confidence, MaxConfidenceAfterConflict)
	}
}

func TestDetectorIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := New(s)

	e, err := s.UpsertEntity(ctx, model.Entity{Namespace: "default", Name: "target_latency", Type: model.EntityConcept})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "200ms", Confidence: 1.0})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "500ms", Confidence: 1.0})
	require.NoError(t, err)

	_, err = d.Run(ctx, "default")
	require.NoError(t, err)
	second, err := d.Run(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0, second.ConflictsDetected)

	n, err := s.CountConflicts(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDetectorNoConflictForMatchingValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := New(s)

	e, err := s.UpsertEntity(ctx, model.Entity{Namespace: "default", Name: "target_latency", Type: model.EntityConcept})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "200ms"})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "200ms"})
	require.NoError(t, err)

	result, err := d.Run(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ConflictsDetected)
}
