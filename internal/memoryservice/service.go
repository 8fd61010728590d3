// Package memoryservice provides the shared business logic behind every
// MCP tool (C9). The MCP handlers are thin; all embedding, routing,
// namespace locking, and typed-error mapping happens here so the control
// channel never duplicates behavior.
package memoryservice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/conflicts"
	"github.com/ashita-ai/vesper/internal/embedding"
	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/router"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/skills"
	"github.com/ashita-ai/vesper/internal/vectorindex"
	"github.com/ashita-ai/vesper/internal/working"
)

// Service is the single type every MCP tool handler calls into.
type Service struct {
	working     working.Store
	semantic    *semantic.Store
	skills      *skills.Library
	router      *router.Router
	detector    *conflicts.Detector
	embedder    embedding.Provider
	vectorIndex vectorindex.Index
	logger      *slog.Logger

	enabled atomic.Bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	collectionsMu sync.Mutex
	collections   map[string]bool
}

// New constructs a Service. The façade starts enabled. vecIndex may be nil,
// in which case store_memory and delete_memory skip the Vector Index step
// and retrieval relies on the Working and Semantic tiers alone.
func New(workingStore working.Store, semanticStore *semantic.Store, skillLibrary *skills.Library, r *router.Router, embedder embedding.Provider, vecIndex vectorindex.Index, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		working:     workingStore,
		semantic:    semanticStore,
		skills:      skillLibrary,
		router:      r,
		detector:    conflicts.New(semanticStore),
		embedder:    embedder,
		vectorIndex: vecIndex,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
		collections: make(map[string]bool),
	}
	s.enabled.Store(true)
	return s
}

// ensureCollection lazily creates the Vector Index collection backing
// namespace, once per namespace per process.
func (s *Service) ensureCollection(ctx context.Context, namespace string, dim int) error {
	s.collectionsMu.Lock()
	defer s.collectionsMu.Unlock()
	if s.collections[namespace] {
		return nil
	}
	if err := s.vectorIndex.InitCollection(ctx, namespace, dim); err != nil {
		return err
	}
	s.collections[namespace] = true
	return nil
}

// namespaceLock returns the striped mutex for namespace, creating it on
// first use. Concurrent requests across namespaces never block each
// other; writes within one namespace serialize (spec §5).
func (s *Service) namespaceLock(namespace string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[namespace]
	if !ok {
		l = &sync.Mutex{}
		s.locks[namespace] = l
	}
	return l
}

func (s *Service) withNamespaceLock(namespace string, fn func() error) error {
	lock := s.namespaceLock(namespace)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return model.DefaultNamespace
	}
	return ns
}

// Enable/Disable/Status back the vesper_enable/_disable/_status pass-
// through toggle (spec §4.9). When disabled, StoreMemory and
// RetrieveMemory both refuse with Unavailable.
func (s *Service) Enable()      { s.enabled.Store(true) }
func (s *Service) Disable()     { s.enabled.Store(false) }
func (s *Service) Status() bool { return s.enabled.Load() }

// Health reports reachability of the embedding provider and the Vector
// Index, backing vesper_status's supplemental health fields. Neither
// check failing disables the service; both paths degrade gracefully on
// their own (spec §4.1, §4.9).
func (s *Service) Health(ctx context.Context) (embeddingOK, vectorIndexOK bool) {
	embeddingOK = s.embedder == nil || s.embedder.Health(ctx) == nil
	vectorIndexOK = s.vectorIndex == nil || s.vectorIndex.Health(ctx) == nil
	return embeddingOK, vectorIndexOK
}

func (s *Service) checkEnabled() error {
	if !s.enabled.Load() {
		return newError(errkind.Unavailable, false, "memory service is disabled")
	}
	return nil
}

// StoreMemoryRequest is the store_memory tool's input.
type StoreMemoryRequest struct {
	Namespace  string
	Content    string
	MemoryType string
	Metadata   map[string]string
	AgentID    string
	TaskID     string
}

// StoreMemoryResult is the store_memory tool's output.
type StoreMemoryResult struct {
	ID           uuid.UUID
	HasEmbedding bool
	Inserted     bool
}

// StoreMemory persists content idempotently (by namespace+content hash).
// The write order is graph store, then Vector Index, then Working Tier:
// a Vector Index failure rolls back the graph commit and returns an
// error, while a Working Tier failure is logged and otherwise ignored
// since the ring is a cache, not a record of truth (spec §4.9).
func (s *Service) StoreMemory(ctx context.Context, req StoreMemoryRequest) (StoreMemoryResult, error) {
	if err := s.checkEnabled(); err != nil {
		return StoreMemoryResult{}, err
	}
	if req.Content == "" {
		return StoreMemoryResult{}, newError(errkind.InvalidInput, false, "content must not be empty")
	}
	namespace := normalizeNamespace(req.Namespace)

	var result StoreMemoryResult
	err := s.withNamespaceLock(namespace, func() error {
		emb, embErr := s.embedder.Embed(ctx, req.Content)
		hasEmbedding := embErr == nil && len(emb) > 0
		if embErr != nil {
			s.logger.Warn("store_memory: embedding failed, continuing without", "namespace", namespace, "error", embErr)
		}

		mem, inserted, err := s.semantic.InsertMemory(ctx, model.Memory{
			Namespace: namespace, Content: req.Content, MemoryType: req.MemoryType,
			Metadata: req.Metadata, AgentID: req.AgentID, TaskID: req.TaskID, HasEmbedding: hasEmbedding,
		})
		if err != nil {
			return toError(err)
		}

		if inserted && hasEmbedding && s.vectorIndex != nil {
			if err := s.ensureCollection(ctx, namespace, s.embedder.Dimensions()); err != nil {
				_ = s.semantic.DeleteMemory(ctx, mem.ID)
				return toError(err)
			}
			upsertErr := s.vectorIndex.Upsert(ctx, namespace, vectorindex.Point{
				ID: mem.ID, Vector: emb, Payload: map[string]any{"content": req.Content, "memory_type": req.MemoryType},
			})
			if upsertErr != nil {
				// spec §4: failure indexing the memory rolls back the graph
				// commit rather than leaving the two stores inconsistent.
				_ = s.semantic.DeleteMemory(ctx, mem.ID)
				return toError(upsertErr)
			}
		}

		if inserted {
			convErr := s.working.StoreRecord(ctx, model.Conversation{
				ConversationID: mem.ID, Namespace: namespace, Timestamp: mem.CreatedAt,
				FullText: req.Content, Embedding: emb,
			})
			if convErr != nil {
				s.logger.Warn("store_memory: working tier insert failed", "namespace", namespace, "error", convErr)
			}
		}

		result = StoreMemoryResult{ID: mem.ID, HasEmbedding: mem.HasEmbedding, Inserted: inserted}
		return nil
	})
	return result, err
}

// RetrieveMemoryRequest is the retrieve_memory tool's input.
type RetrieveMemoryRequest struct {
	Namespace     string
	Query         string
	MaxResults    int
	LastUsedSkill uuid.UUID
}

// RetrieveMemoryResult is the retrieve_memory tool's output.
type RetrieveMemoryResult struct {
	Items     []router.Item
	QueryType router.QueryType
	FastPath  bool
	LatencyMS int64
}

// RetrieveMemory dispatches to the Smart Router and reports latency and
// provenance alongside the merged results.
func (s *Service) RetrieveMemory(ctx context.Context, req RetrieveMemoryRequest) (RetrieveMemoryResult, error) {
	if err := s.checkEnabled(); err != nil {
		return RetrieveMemoryResult{}, err
	}
	if req.Query == "" {
		return RetrieveMemoryResult{}, newError(errkind.InvalidInput, false, "query must not be empty")
	}
	namespace := normalizeNamespace(req.Namespace)
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	start := time.Now()
	result, err := s.router.Route(ctx, namespace, req.Query, req.LastUsedSkill)
	if err != nil {
		return RetrieveMemoryResult{}, toError(err)
	}
	if len(result.Items) > maxResults {
		result.Items = result.Items[:maxResults]
	}
	return RetrieveMemoryResult{
		Items: result.Items, QueryType: result.QueryType, FastPath: result.FastPath,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

// ListRecent returns up to k of the namespace's most recently stored
// durable memories, newest first.
func (s *Service) ListRecent(ctx context.Context, namespace string, k int) ([]model.Memory, error) {
	namespace = normalizeNamespace(namespace)
	if k <= 0 {
		k = 10
	}
	out, err := s.semantic.ListRecentMemories(ctx, namespace, k)
	if err != nil {
		return nil, toError(err)
	}
	return out, nil
}

// Stats summarizes a namespace's footprint across every tier, backing
// both get_stats and namespace_stats.
type Stats struct {
	Namespace     int
	MemoryCount   int
	SkillCount    int
	ConflictCount int
}

// GetStats reports memory/skill/conflict counts for namespace.
func (s *Service) GetStats(ctx context.Context, namespace string) (Stats, error) {
	namespace = normalizeNamespace(namespace)
	memCount, err := s.semantic.CountMemories(ctx, namespace)
	if err != nil {
		return Stats{}, toError(err)
	}
	conflictCount, err := s.semantic.CountConflicts(ctx, namespace)
	if err != nil {
		return Stats{}, toError(err)
	}
	summaries, err := s.skills.Summaries(ctx, namespace, -1, "")
	if err != nil {
		return Stats{}, toError(err)
	}
	return Stats{MemoryCount: memCount, SkillCount: len(summaries), ConflictCount: conflictCount}, nil
}

// NamespaceStats is an alias of GetStats (spec §4.9 lists both names for
// the general and per-namespace tool surfaces; the computation is
// identical once namespace is resolved).
func (s *Service) NamespaceStats(ctx context.Context, namespace string) (Stats, error) {
	return s.GetStats(ctx, namespace)
}

// DeleteMemory removes a single memory by id from the graph store, the
// Vector Index, and every namespace's Working Tier ring (spec §4.9). The
// graph store is canonical: once it reports success the memory is
// considered deleted, so Vector Index and Working Tier cleanup failures
// are logged rather than surfaced.
func (s *Service) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	mem, err := s.semantic.GetMemory(ctx, id)
	if err != nil {
		return toError(err)
	}
	if err := s.semantic.DeleteMemory(ctx, id); err != nil {
		return toError(err)
	}

	if s.vectorIndex != nil {
		if err := s.vectorIndex.Delete(ctx, mem.Namespace, id); err != nil {
			s.logger.Warn("delete_memory: vector index delete failed", "id", id, "error", err)
		}
	}
	if err := s.working.Delete(ctx, mem.Namespace, id); err != nil {
		s.logger.Warn("delete_memory: working tier delete failed", "id", id, "error", err)
	}
	return nil
}

// ListNamespaces returns every namespace with at least one durable memory.
func (s *Service) ListNamespaces(ctx context.Context) ([]string, error) {
	out, err := s.semantic.ListNamespaces(ctx)
	if err != nil {
		return nil, toError(err)
	}
	return out, nil
}

// ShareContext copies recent memories from one namespace into another,
// leaving a handoff marker on each copy's metadata (spec §4.9).
func (s *Service) ShareContext(ctx context.Context, fromNamespace, toNamespace string, limit int) (int, error) {
	fromNamespace = normalizeNamespace(fromNamespace)
	toNamespace = normalizeNamespace(toNamespace)
	if limit <= 0 {
		limit = 20
	}

	source, err := s.semantic.ListRecentMemories(ctx, fromNamespace, limit)
	if err != nil {
		return 0, toError(err)
	}

	var copied int
	err = s.withNamespaceLock(toNamespace, func() error {
		for _, mem := range source {
			metadata := make(map[string]string, len(mem.Metadata)+1)
			for k, v := range mem.Metadata {
				metadata[k] = v
			}
			metadata["handoff_from"] = fromNamespace
			_, inserted, insertErr := s.semantic.InsertMemory(ctx, model.Memory{
				Namespace: toNamespace, Content: mem.Content, MemoryType: mem.MemoryType,
				Metadata: metadata, AgentID: mem.AgentID, TaskID: mem.TaskID, HasEmbedding: mem.HasEmbedding,
			})
			if insertErr != nil {
				return toError(insertErr)
			}
			if inserted {
				copied++
			}
		}
		return nil
	})
	return copied, err
}

// StoreDecisionRequest is the store_decision tool's input.
type StoreDecisionRequest struct {
	Namespace  string
	Content    string
	Metadata   map[string]string
	AgentID    string
	TaskID     string
}

// StoreDecisionResult reports the stored memory plus any conflict the
// decision immediately surfaced against prior facts in the namespace.
type StoreDecisionResult struct {
	StoreMemoryResult
	ConflictsDetected int
}

// StoreDecision stores content as a decision-flagged memory and runs
// conflict detection synchronously so the caller learns immediately if it
// contradicts a standing fact, rather than waiting for the next
// consolidation run (spec §4.9: "reduced decay rate; conflict flagging").
func (s *Service) StoreDecision(ctx context.Context, req StoreDecisionRequest) (StoreDecisionResult, error) {
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["decision"] = "true"

	storeResult, err := s.StoreMemory(ctx, StoreMemoryRequest{
		Namespace: req.Namespace, Content: req.Content, MemoryType: "decision",
		Metadata: metadata, AgentID: req.AgentID, TaskID: req.TaskID,
	})
	if err != nil {
		return StoreDecisionResult{}, err
	}

	namespace := normalizeNamespace(req.Namespace)
	conflictResult, detectErr := s.detector.Run(ctx, namespace)
	if detectErr != nil {
		s.logger.Warn("store_decision: conflict detection failed", "namespace", namespace, "error", detectErr)
		return StoreDecisionResult{StoreMemoryResult: storeResult}, nil
	}
	return StoreDecisionResult{StoreMemoryResult: storeResult, ConflictsDetected: conflictResult.ConflictsDetected}, nil
}

// LoadSkill fetches a skill's full record for lazy injection into an
// agent's context.
func (s *Service) LoadSkill(ctx context.Context, id uuid.UUID) (model.Skill, error) {
	sk, err := s.skills.LoadFull(ctx, id)
	if err != nil {
		return model.Skill{}, toError(err)
	}
	return sk, nil
}

// RecordSkillOutcome updates a skill's running success/failure counters
// and, if provided, its running satisfaction average.
func (s *Service) RecordSkillOutcome(ctx context.Context, id uuid.UUID, success bool, satisfaction *float64) (model.Skill, error) {
	var (
		sk  model.Skill
		err error
	)
	if success {
		sk, err = s.skills.RecordSuccess(ctx, id, satisfaction)
	} else {
		sk, err = s.skills.RecordFailure(ctx, id)
	}
	if err != nil {
		return model.Skill{}, toError(err)
	}
	return sk, nil
}
