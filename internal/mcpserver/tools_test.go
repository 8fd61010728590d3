package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/embedding"
	"github.com/ashita-ai/vesper/internal/memoryservice"
	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/router"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/skills"
	"github.com/ashita-ai/vesper/internal/vecutil"
	"github.com/ashita-ai/vesper/internal/vectorindex"
	"github.com/ashita-ai/vesper/internal/working"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	v := make([]float32, vecutil.Dimensions)
	v[0] = 1
	return vecutil.Normalize(v), nil
}
func (e stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}
func (stubEmbedder) Dimensions() int             { return vecutil.Dimensions }
func (stubEmbedder) Health(context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *skills.Library) {
	t.Helper()
	ctx := context.Background()

	w, err := working.NewBadgerStore(filepath.Join(t.TempDir(), "working"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	sem, err := semantic.Open(ctx, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sem.Close() })

	lib := skills.New(sem.DB())
	var embedder embedding.Provider = stubEmbedder{}
	vecIndex := vectorindex.NewMemoryIndex()
	r := router.New(w, sem, lib, embedder, vecIndex)
	svc := memoryservice.New(w, sem, lib, r, embedder, vecIndex, nil)

	return New(svc, nil, "test"), lib
}

func callTool(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestHandleStoreMemoryThenListRecent(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStoreMemory(ctx, callTool("store_memory", map[string]any{
		"content": "the user prefers dark mode",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &stored))
	assert.Equal(t, true, stored["inserted"])

	recent, err := s.handleListRecent(ctx, callTool("list_recent", map[string]any{}))
	require.NoError(t, err)
	require.False(t, recent.IsError, resultText(t, recent))
	assert.Contains(t, resultText(t, recent), "dark mode")
}

func TestHandleStoreMemoryRejectsEmptyContent(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleStoreMemory(context.Background(), callTool("store_memory", map[string]any{
		"content": "",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRetrieveMemoryRejectsInvalidSkillID(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleRetrieveMemory(context.Background(), callTool("retrieve_memory", map[string]any{
		"query":           "what did I say?",
		"last_used_skill": "not-a-uuid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStoreDecisionIncludesConflictCount(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleStoreMemory(ctx, callTool("store_memory", map[string]any{
		"content": "the user's favorite language is TypeScript",
	}))
	require.NoError(t, err)

	result, err := s.handleStoreDecision(ctx, callTool("store_decision", map[string]any{
		"content": "switched the default language to Rust",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
	assert.Contains(t, decoded, "conflicts_detected")
}

func TestHandleVesperEnableDisableStatus(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleVesperStatus(ctx, callTool("vesper_status", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled": true, "embedding_ok": true, "vector_index_ok": true}`, resultText(t, result))

	_, err = s.handleVesperDisable(ctx, callTool("vesper_disable", nil))
	require.NoError(t, err)

	result, err = s.handleVesperStatus(ctx, callTool("vesper_status", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled": false, "embedding_ok": true, "vector_index_ok": true}`, resultText(t, result))

	store, err := s.handleStoreMemory(ctx, callTool("store_memory", map[string]any{"content": "x"}))
	require.NoError(t, err)
	assert.True(t, store.IsError)

	_, err = s.handleVesperEnable(ctx, callTool("vesper_enable", nil))
	require.NoError(t, err)
}

func TestHandleLoadSkillAndRecordOutcome(t *testing.T) {
	s, lib := newTestServer(t)
	ctx := context.Background()

	sk, err := lib.UpsertSkill(ctx, model.Skill{
		Namespace: "default", Name: "deploy", Summary: "deploy", Description: "deploy",
		Category: "ops", Triggers: []string{"deploy"},
	})
	require.NoError(t, err)

	loaded, err := s.handleLoadSkill(ctx, callTool("load_skill", map[string]any{
		"skill_id": sk.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, loaded.IsError, resultText(t, loaded))

	outcome, err := s.handleRecordSkillOutcome(ctx, callTool("record_skill_outcome", map[string]any{
		"skill_id": sk.ID.String(),
		"success":  true,
	}))
	require.NoError(t, err)
	require.False(t, outcome.IsError, resultText(t, outcome))
}

func TestHandleDeleteMemoryNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleDeleteMemory(context.Background(), callTool("delete_memory", map[string]any{
		"id": "00000000-0000-0000-0000-000000000000",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
