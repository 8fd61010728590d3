package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/vesper/internal/memoryservice"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("store_memory",
			mcplib.WithDescription(`Persist a durable fact, preference, or event to a namespace's memory graph.

Storage is idempotent: storing identical content twice in the same namespace
returns the original record's id instead of creating a duplicate.`),
			mcplib.WithString("content", mcplib.Description("The text to remember"), mcplib.Required()),
			mcplib.WithString("memory_type", mcplib.Description(`Category, e.g. "fact", "preference", "event". Free-form.`)),
			mcplib.WithString("metadata", mcplib.Description("Optional JSON object of string key/value pairs")),
			mcplib.WithString("agent_id", mcplib.Description("Optional: the agent recording this memory")),
			mcplib.WithString("task_id", mcplib.Description("Optional: the task this memory was learned during")),
			mcplib.WithString("namespace", mcplib.Description(`Defaults to "default"`)),
		),
		s.handleStoreMemory,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("retrieve_memory",
			mcplib.WithDescription(`Recall memories relevant to a natural language query.

Always checks the fast-path working tier first, then falls back to
preference, factual, temporal, project, skill, or hybrid-search dispatch
depending on how the query classifies.`),
			mcplib.WithString("query", mcplib.Description("Natural language query"), mcplib.Required()),
			mcplib.WithNumber("max_results", mcplib.Description("Maximum results to return"), mcplib.Min(1), mcplib.Max(100), mcplib.DefaultNumber(10)),
			mcplib.WithString("last_used_skill", mcplib.Description("Optional skill id the caller just invoked, used for 'like before' style follow-ups")),
			mcplib.WithString("namespace", mcplib.Description(`Defaults to "default"`)),
		),
		s.handleRetrieveMemory,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_recent",
			mcplib.WithDescription("List the most recently stored durable memories in a namespace."),
			mcplib.WithNumber("limit", mcplib.Description("Maximum records to return"), mcplib.Min(1), mcplib.Max(100), mcplib.DefaultNumber(10)),
			mcplib.WithString("namespace", mcplib.Description(`Defaults to "default"`)),
		),
		s.handleListRecent,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_stats",
			mcplib.WithDescription("Aggregate memory/skill/conflict counts for a namespace."),
			mcplib.WithString("namespace", mcplib.Description(`Defaults to "default"`)),
		),
		s.handleGetStats,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("delete_memory",
			mcplib.WithDescription("Remove a single memory by id."),
			mcplib.WithString("id", mcplib.Description("Memory id (UUID)"), mcplib.Required()),
		),
		s.handleDeleteMemory,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("share_context",
			mcplib.WithDescription("Copy recent memories from one namespace into another, tagging each copy with a handoff marker."),
			mcplib.WithString("from", mcplib.Description("Source namespace"), mcplib.Required()),
			mcplib.WithString("to", mcplib.Description("Destination namespace"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum memories to copy"), mcplib.Min(1), mcplib.Max(200), mcplib.DefaultNumber(20)),
		),
		s.handleShareContext,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("store_decision",
			mcplib.WithDescription(`Record a decision. Runs conflict detection synchronously, so a
contradicting prior decision or fact in the namespace surfaces immediately.`),
			mcplib.WithString("content", mcplib.Description("What was decided, stated as a fact"), mcplib.Required()),
			mcplib.WithString("metadata", mcplib.Description("Optional JSON object of string key/value pairs")),
			mcplib.WithString("agent_id", mcplib.Description("Optional: the agent making this decision")),
			mcplib.WithString("task_id", mcplib.Description("Optional: the task this decision was made during")),
			mcplib.WithString("namespace", mcplib.Description(`Defaults to "default"`)),
		),
		s.handleStoreDecision,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_namespaces",
			mcplib.WithDescription("List every namespace with at least one stored memory.")),
		s.handleListNamespaces,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("namespace_stats",
			mcplib.WithDescription("Aggregate memory/skill/conflict counts for a namespace (alias of get_stats)."),
			mcplib.WithString("namespace", mcplib.Description(`Defaults to "default"`)),
		),
		s.handleGetStats,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("vesper_enable",
			mcplib.WithDescription("Resume the memory service after vesper_disable.")),
		s.handleVesperEnable,
	)
	s.mcpServer.AddTool(
		mcplib.NewTool("vesper_disable",
			mcplib.WithDescription("Pause the memory service; store_memory and retrieve_memory refuse while disabled.")),
		s.handleVesperDisable,
	)
	s.mcpServer.AddTool(
		mcplib.NewTool("vesper_status",
			mcplib.WithDescription("Report whether the memory service is currently enabled.")),
		s.handleVesperStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("load_skill",
			mcplib.WithDescription("Load a stored procedure's full record for injection into an agent's context."),
			mcplib.WithString("skill_id", mcplib.Description("Skill id (UUID)"), mcplib.Required()),
		),
		s.handleLoadSkill,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("record_skill_outcome",
			mcplib.WithDescription("Record whether a skill's application succeeded and, optionally, how satisfied the user was."),
			mcplib.WithString("skill_id", mcplib.Description("Skill id (UUID)"), mcplib.Required()),
			mcplib.WithBoolean("success", mcplib.Description("Whether applying the skill succeeded"), mcplib.Required()),
			mcplib.WithNumber("satisfaction", mcplib.Description("Optional 0.0-1.0 user satisfaction rating"), mcplib.Min(0), mcplib.Max(1)),
		),
		s.handleRecordSkillOutcome,
	)
}

func serviceError(err error) *mcplib.CallToolResult {
	var svcErr *memoryservice.Error
	if e, ok := err.(*memoryservice.Error); ok {
		svcErr = e
	}
	if svcErr != nil {
		return errorResult(fmt.Sprintf("%s: %s", svcErr.Kind, svcErr.Message))
	}
	return errorResult(err.Error())
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return textResult(string(data))
}

func parseMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object of strings: %w", err)
	}
	return out, nil
}

func (s *Server) handleStoreMemory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metadata, err := parseMetadata(request.GetString("metadata", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := s.svc.StoreMemory(ctx, memoryservice.StoreMemoryRequest{
		Namespace:  request.GetString("namespace", ""),
		Content:    request.GetString("content", ""),
		MemoryType: request.GetString("memory_type", ""),
		Metadata:   metadata,
		AgentID:    request.GetString("agent_id", ""),
		TaskID:     request.GetString("task_id", ""),
	})
	if err != nil {
		return serviceError(err), nil
	}

	return jsonResult(map[string]any{
		"id":            result.ID,
		"has_embedding": result.HasEmbedding,
		"inserted":      result.Inserted,
	}), nil
}

func (s *Server) handleRetrieveMemory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var lastUsedSkill uuid.UUID
	if raw := request.GetString("last_used_skill", ""); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid last_used_skill: %v", err)), nil
		}
		lastUsedSkill = parsed
	}

	result, err := s.svc.RetrieveMemory(ctx, memoryservice.RetrieveMemoryRequest{
		Namespace:     request.GetString("namespace", ""),
		Query:         request.GetString("query", ""),
		MaxResults:    request.GetInt("max_results", 10),
		LastUsedSkill: lastUsedSkill,
	})
	if err != nil {
		return serviceError(err), nil
	}

	items := make([]map[string]any, len(result.Items))
	for i, item := range result.Items {
		entry := map[string]any{
			"id": item.ID, "content": item.Content, "score": item.Score, "source": item.Source,
		}
		if len(item.Path) > 0 {
			entry["path"] = item.Path
		}
		if item.MatchedTrigger != "" {
			entry["matched_trigger"] = item.MatchedTrigger
		}
		items[i] = entry
	}

	return jsonResult(map[string]any{
		"results":    items,
		"query_type": result.QueryType,
		"fast_path":  result.FastPath,
		"latency_ms": result.LatencyMS,
	}), nil
}

func (s *Server) handleListRecent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	records, err := s.svc.ListRecent(ctx, request.GetString("namespace", ""), request.GetInt("limit", 10))
	if err != nil {
		return serviceError(err), nil
	}
	return jsonResult(map[string]any{"records": records}), nil
}

func (s *Server) handleGetStats(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	stats, err := s.svc.GetStats(ctx, request.GetString("namespace", ""))
	if err != nil {
		return serviceError(err), nil
	}
	return jsonResult(map[string]any{
		"memories":  stats.MemoryCount,
		"skills":    stats.SkillCount,
		"conflicts": stats.ConflictCount,
	}), nil
}

func (s *Server) handleDeleteMemory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid id: %v", err)), nil
	}
	if err := s.svc.DeleteMemory(ctx, id); err != nil {
		return serviceError(err), nil
	}
	return jsonResult(map[string]any{"deleted": true}), nil
}

func (s *Server) handleShareContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	from := request.GetString("from", "")
	to := request.GetString("to", "")
	if from == "" || to == "" {
		return errorResult("from and to are required"), nil
	}
	copied, err := s.svc.ShareContext(ctx, from, to, request.GetInt("limit", 20))
	if err != nil {
		return serviceError(err), nil
	}
	return jsonResult(map[string]any{"copied": copied}), nil
}

func (s *Server) handleStoreDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metadata, err := parseMetadata(request.GetString("metadata", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := s.svc.StoreDecision(ctx, memoryservice.StoreDecisionRequest{
		Namespace: request.GetString("namespace", ""),
		Content:   request.GetString("content", ""),
		Metadata:  metadata,
		AgentID:   request.GetString("agent_id", ""),
		TaskID:    request.GetString("task_id", ""),
	})
	if err != nil {
		return serviceError(err), nil
	}

	return jsonResult(map[string]any{
		"id":                 result.ID,
		"inserted":           result.Inserted,
		"conflicts_detected": result.ConflictsDetected,
	}), nil
}

func (s *Server) handleListNamespaces(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	namespaces, err := s.svc.ListNamespaces(ctx)
	if err != nil {
		return serviceError(err), nil
	}
	return jsonResult(map[string]any{"namespaces": namespaces}), nil
}

func (s *Server) handleVesperEnable(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	s.svc.Enable()
	return jsonResult(map[string]any{"enabled": true}), nil
}

func (s *Server) handleVesperDisable(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	s.svc.Disable()
	return jsonResult(map[string]any{"enabled": false}), nil
}

func (s *Server) handleVesperStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	embeddingOK, vectorIndexOK := s.svc.Health(ctx)
	return jsonResult(map[string]any{
		"enabled":         s.svc.Status(),
		"embedding_ok":    embeddingOK,
		"vector_index_ok": vectorIndexOK,
	}), nil
}

func (s *Server) handleLoadSkill(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("skill_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid skill_id: %v", err)), nil
	}
	skill, err := s.svc.LoadSkill(ctx, id)
	if err != nil {
		return serviceError(err), nil
	}
	return jsonResult(skill), nil
}

func (s *Server) handleRecordSkillOutcome(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("skill_id", ""))
	if err != nil {
		return errorResult(fmt.Sprintf("invalid skill_id: %v", err)), nil
	}
	success := request.GetBool("success", false)

	var satisfaction *float64
	if request.GetArguments()["satisfaction"] != nil {
		v := request.GetFloat("satisfaction", 0)
		satisfaction = &v
	}

	skill, err := s.svc.RecordSkillOutcome(ctx, id, success, satisfaction)
	if err != nil {
		return serviceError(err), nil
	}
	return jsonResult(map[string]any{
		"quality_score": skill.QualityScore(),
	}), nil
}
