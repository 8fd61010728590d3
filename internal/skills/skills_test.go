package skills

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/vecutil"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := semantic.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s.DB())
}

func unitVector(seed float32) []float32 {
	v := make([]float32, vecutil.Dimensions)
	v[0] = 1 + seed
	for i := 1; i < len(v); i++ {
		v[i] = 0.001 * seed
	}
	return vecutil.Normalize(v)
}

func mustSkill(t *testing.T, l *Library, namespace, name, category string, triggers []string) model.Skill {
	t.Helper()
	sk, err := l.UpsertSkill(context.Background(), model.Skill{
		Namespace: namespace, Name: name, Summary: name, Description: name, Category: category, Triggers: triggers,
	})
	require.NoError(t, err)
	return sk
}

func TestUpsertAndLoadSkillRoundTrip(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	sk := mustSkill(t, l, "default", "deploy_service", "ops", []string{"deploy", "ship it"})
	got, err := l.LoadFull(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, sk.Name, got.Name)
	assert.Equal(t, []string{"deploy", "ship it"}, got.Triggers)
}

func TestSummariesRankByQualityScore(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	weak := mustSkill(t, l, "default", "weak_skill", "ops", nil)
	strong := mustSkill(t, l, "default", "strong_skill", "ops", nil)

	_, err := l.RecordSuccess(ctx, strong.ID, ptrF(0.9))
	require.NoError(t, err)
	_, err = l.RecordFailure(ctx, weak.ID)
	require.NoError(t, err)

	summaries, err := l.Summaries(ctx, "default", -1, "")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, strong.ID, summaries[0].ID)
}

func TestRecordSuccessUpdatesRunningSatisfaction(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	sk := mustSkill(t, l, "default", "skill_a", "ops", nil)

	_, err := l.RecordSuccess(ctx, sk.ID, ptrF(1.0))
	require.NoError(t, err)
	got, err := l.RecordSuccess(ctx, sk.ID, ptrF(0.0))
	require.NoError(t, err)

	assert.Equal(t, 2, got.SuccessCount)
	assert.InDelta(t, 0.5, got.AvgUserSatisfaction, 1e-9)
}

func ptrF(f float64) *float64 { return &f }
