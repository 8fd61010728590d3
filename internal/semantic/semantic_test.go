package semantic

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustEntity(t *testing.T, s *Store, namespace, name string, typ model.EntityType) model.Entity {
	t.Helper()
	e, err := s.UpsertEntity(context.Background(), model.Entity{Namespace: namespace, Name: name, Type: typ})
	require.NoError(t, err)
	return e
}

func TestUpsertAndGetEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := mustEntity(t, s, "default", "David", model.EntityPerson)
	got, err := s.GetEntityByName(ctx, "default", "David")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, model.EntityPerson, got.Type)
}

func TestGetEntityByNameNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntityByName(context.Background(), "default", "missing")
	assert.Error(t, err)
}

func TestPersonalizedPageRankTieBreaksByAccessThenRecency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := mustEntity(t, s, "default", "seed", model.EntityConcept)
	now := time.Now().UTC()

	// Both reachable from seed with identical edge weight, so their PPR
	// scores land exactly equal; access_count then last_accessed must
	// decide the order.
	loEntity := model.Entity{Namespace: "default", Name: "lo_access", Type: model.EntityConcept, AccessCount: 1, LastAccessed: now.Add(-time.Hour)}
	lo, err := s.UpsertEntity(ctx, loEntity)
	require.NoError(t, err)
	hiEntity := model.Entity{Namespace: "default", Name: "hi_access", Type: model.EntityConcept, AccessCount: 5, LastAccessed: now.Add(-2 * time.Hour)}
	hi, err := s.UpsertEntity(ctx, hiEntity)
	require.NoError(t, err)

	_, err = s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: seed.ID, TargetID: lo.ID, RelationType: "co_occurs_with", Strength: 0.5})
	require.NoError(t, err)
	_, err = s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: seed.ID, TargetID: hi.ID, RelationType: "co_occurs_with", Strength: 0.5})
	require.NoError(t, err)

	weights, err := s.PersonalizedPageRank(ctx, "default", []uuid.UUID{seed.ID}, 2)
	require.NoError(t, err)

	var loRank, hiRank int
	for i, w := range weights {
		if w.EntityID == lo.ID {
			loRank = i
		}
		if w.EntityID == hi.ID {
			hiRank = i
		}
	}
	assert.Less(t, hiRank, loRank, "higher access_count should rank first on a tie")
}

func TestUpsertFactAndPreferenceQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := mustEntity(t, s, "default", "language_preference", model.EntityPreference)
	_, err := s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "TypeScript", ValidFrom: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	results, err := s.PreferenceQuery(ctx, "default", "language")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, e.ID, results[0].Entity.ID)
}

func TestRelationshipReinforcement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustEntity(t, s, "default", "Vesper", model.EntityConcept)
	b := mustEntity(t, s, "default", "MCP", model.EntityConcept)

	r1, err := s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: a.ID, TargetID: b.ID, RelationType: "uses", Strength: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r1.Strength, 1e-9)

	r2, err := s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: a.ID, TargetID: b.ID, RelationType: "uses"})
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)
	assert.InDelta(t, 0.7, r2.Strength, 1e-9)
}

func TestApplyDecayNoOpAtZeroDelta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustEntity(t, s, "default", "A", model.EntityConcept)
	b := mustEntity(t, s, "default", "B", model.EntityConcept)
	now := time.Now()
	r, err := s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: a.ID, TargetID: b.ID, RelationType: "rel", Strength: 0.8, LastReinforced: now})
	require.NoError(t, err)

	_, err = s.ApplyDecay(ctx, "default", DecayBaseDays, now)
	require.NoError(t, err)

	relationships, err := s.ListRelationships(ctx, "default")
	require.NoError(t, err)
	require.Len(t, relationships, 1)
	assert.Equal(t, r.ID, relationships[0].ID)
	assert.InDelta(t, 0.8, relationships[0].Strength, 1e-9)
}

func TestPruneNeverRemovesFrequentlyAccessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, err := s.UpsertEntity(ctx, model.Entity{Namespace: "default", Name: "A", Type: model.EntityConcept, AccessCount: 5})
	require.NoError(t, err)
	b := mustEntity(t, s, "default", "B", model.EntityConcept)

	old := time.Now().Add(-120 * 24 * time.Hour)
	_, err = s.UpsertRelationship(ctx, model.Relationship{
		Namespace: "default", SourceID: a.ID, TargetID: b.ID, RelationType: "rel",
		Strength: 0.01, CreatedAt: old, LastReinforced: old,
	})
	require.NoError(t, err)

	result, err := s.PruneWeakRelationships(ctx, "default", PruneMaxStrength, PruneMaxAccessCount, PruneMinAgeDays, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pruned)
}

func TestPersonalizedPageRankSumsToOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustEntity(t, s, "default", "A", model.EntityConcept)
	b := mustEntity(t, s, "default", "B", model.EntityConcept)
	c := mustEntity(t, s, "default", "C", model.EntityConcept)

	_, err := s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: a.ID, TargetID: b.ID, RelationType: "uses", Strength: 1})
	require.NoError(t, err)
	_, err = s.UpsertRelationship(ctx, model.Relationship{Namespace: "default", SourceID: b.ID, TargetID: c.ID, RelationType: "expands_to", Strength: 1})
	require.NoError(t, err)

	weights, err := s.PersonalizedPageRank(ctx, "default", []uuid.UUID{a.ID}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, weights)

	var total float64
	for _, w := range weights {
		total += w.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-5)
}

func TestInsertConflictIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := mustEntity(t, s, "default", "target_latency", model.EntityConcept)
	f1, err := s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "200ms"})
	require.NoError(t, err)
	f2, err := s.UpsertFact(ctx, model.Fact{Namespace: "default", EntityID: e.ID, Property: "value", Value: "500ms"})
	require.NoError(t, err)

	c1, inserted1, err := s.InsertConflict(ctx, model.Conflict{Namespace: "default", FactID1: f1.ID, FactID2: f2.ID, ConflictType: model.ConflictContradiction})
	require.NoError(t, err)
	assert.True(t, inserted1)

	c2, inserted2, err := s.InsertConflict(ctx, model.Conflict{Namespace: "default", FactID1: f1.ID, FactID2: f2.ID, ConflictType: model.ConflictContradiction})
	require.NoError(t, err)
	assert.False(t, inserted2)
	assert.Equal(t, c1.ID, c2.ID)

	n, err := s.CountConflicts(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertMemoryIdempotentByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1, inserted1, err := s.InsertMemory(ctx, model.Memory{Namespace: "default", Content: "hello world"})
	require.NoError(t, err)
	assert.True(t, inserted1)

	m2, inserted2, err := s.InsertMemory(ctx, model.Memory{Namespace: "default", Content: "hello world"})
	require.NoError(t, err)
	assert.False(t, inserted2)
	assert.Equal(t, m1.ID, m2.ID)

	n, err := s.CountMemories(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
}
