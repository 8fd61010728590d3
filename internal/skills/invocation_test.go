package skills

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectInvocationExplicitRule(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	sk := mustSkill(t, l, "default", "deploy_service", "ops", nil)

	res, err := l.DetectInvocation(ctx, "default", "use skill deploy_service", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, res.IsInvocation)
	assert.Equal(t, sk.ID, res.SkillID)
	assert.Equal(t, "explicit", res.Rule)
}

func TestDetectInvocationIDReference(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	sk := mustSkill(t, l, "default", "deploy_service", "ops", nil)

	query := "run skill_" + sk.ID.String() + " now"
	res, err := l.DetectInvocation(ctx, "default", query, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, res.IsInvocation)
	assert.Equal(t, sk.ID, res.SkillID)
	assert.Equal(t, "id_reference", res.Rule)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestDetectInvocationTriggerSubstring(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	sk := mustSkill(t, l, "default", "deploy_service", "ops", []string{"ship it to prod"})

	res, err := l.DetectInvocation(ctx, "default", "can you ship it to prod please", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, res.IsInvocation)
	assert.Equal(t, sk.ID, res.SkillID)
	assert.Equal(t, "trigger_substring", res.Rule)
}

func TestDetectInvocationPreviousReference(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	sk := mustSkill(t, l, "default", "deploy_service", "ops", nil)

	res, err := l.DetectInvocation(ctx, "default", "do the same as last time", sk.ID)
	require.NoError(t, err)
	assert.True(t, res.IsInvocation)
	assert.Equal(t, sk.ID, res.SkillID)
	assert.Equal(t, "previous_reference", res.Rule)
}

func TestDetectInvocationPreviousReferenceWithoutLastSkillIsNoMatch(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()

	res, err := l.DetectInvocation(ctx, "default", "do the same as last time", uuid.Nil)
	require.NoError(t, err)
	assert.False(t, res.IsInvocation)
}

func TestDetectInvocationNoMatch(t *testing.T) {
	l := newTestLibrary(t)
	ctx := context.Background()
	mustSkill(t, l, "default", "deploy_service", "ops", []string{"ship it"})

	res, err := l.DetectInvocation(ctx, "default", "what's the weather like", uuid.Nil)
	require.NoError(t, err)
	assert.False(t, res.IsInvocation)
}
