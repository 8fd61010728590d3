package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/model"
)

func mustSkillWithEmbedding(t *testing.T, l *Library, namespace, name, category string, triggers []string, emb []float32) model.Skill {
	t.Helper()
	sk, err := l.UpsertSkill(context.Background(), model.Skill{
		Namespace: namespace, Name: name, Summary: name, Description: name,
		Category: category, Triggers: triggers, Embedding: emb,
	})
	require.NoError(t, err)
	return sk
}

func TestSearchByEmbeddingRanksByCosine(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	close := mustSkillWithEmbedding(t, l, "default", "close_skill", "ops", nil, unitVector(0.0))
	far := mustSkillWithEmbedding(t, l, "default", "far_skill", "ops", nil, unitVector(50.0))

	results, err := l.SearchByEmbedding(ctx, "default", unitVector(0.01), -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, close.ID, results[0].SkillID)
	assert.Equal(t, far.ID, results[1].SkillID)
}

func TestHybridSearchFusesTriggerAndEmbeddingMatches(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	triggerOnly := mustSkillWithEmbedding(t, l, "default", "trigger_only", "ops", []string{"restart the service"}, unitVector(40.0))
	both := mustSkillWithEmbedding(t, l, "default", "both_match", "ops", []string{"restart the service"}, unitVector(0.0))

	results, err := l.HybridSearch(ctx, "default", "please restart the service", unitVector(0.01), -1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, both.ID, results[0].SkillID)

	var sawTriggerOnly bool
	for _, r := range results {
		if r.SkillID == triggerOnly.ID {
			sawTriggerOnly = true
		}
	}
	assert.True(t, sawTriggerOnly)
}

func TestAnalogicalSearchFindsClosestTarget(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	dataAnalysis := mustSkillWithEmbedding(t, l, "default", "DataAnalysis", "data", nil, unitVector(1.0))
	dataViz := mustSkillWithEmbedding(t, l, "default", "DataVisualization", "data", nil, unitVector(2.0))
	codeWriting := mustSkillWithEmbedding(t, l, "default", "CodeWriting", "code", nil, unitVector(5.0))
	codeReview := mustSkillWithEmbedding(t, l, "default", "CodeReview", "code", nil, unitVector(6.0))

	best, found, err := l.AnalogicalSearch(ctx, "default", dataAnalysis.ID, dataViz.ID, codeWriting.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, codeReview.ID, best.SkillID)
}

func TestAnalogicalSearchMissingEmbeddingReturnsNotFound(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	a := mustSkill(t, l, "default", "a", "x", nil)
	b := mustSkill(t, l, "default", "b", "x", nil)
	c := mustSkill(t, l, "default", "c", "x", nil)

	_, found, err := l.AnalogicalSearch(ctx, "default", a.ID, b.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, found)
}
