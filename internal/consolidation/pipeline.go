// Package consolidation orchestrates the nine-phase Working → Semantic
// migration (C7): entity/fact extraction, temporal decay, conflict
// detection, relationship pruning, skill extraction, and working-tier
// cleanup. It runs cooperatively in the background, never blocking
// foreground queries for longer than a single phase's transaction.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/vesper/internal/conflicts"
	"github.com/ashita-ai/vesper/internal/embedding"
	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/skills"
	"github.com/ashita-ai/vesper/internal/working"
)

// maxParallelNamespaces bounds how many namespaces run their nine phases
// concurrently; namespaces beyond this many queue behind errgroup's
// semaphore.
const maxParallelNamespaces = 4

// preferencePattern tags conversational text expressing a preference
// (spec §4.7 phase 2: "regex tags: prefer|like|want|favor").
var preferencePattern = regexp.MustCompile(`(?i)\b(?:prefer|like|want|favor)s?\b\s+(.+)`)

// positiveFeedbackIntents flags conversations worth mining for skills
// (spec §4.7 phase 6: "records flagged with positive-feedback topics").
var positiveFeedbackIntents = map[string]bool{
	"positive_feedback": true,
	"success":           true,
	"worked_well":       true,
}

// relationVerbPatterns map a verb phrase found between two key entities to
// the typed relation it implies (spec scenario 3: "Vesper uses MCP", "MCP
// stands for Model Context Protocol"). Untyped co-occurrence is the
// fallback when none of these match.
var relationVerbPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?i)\buses\b`), "uses"},
	{regexp.MustCompile(`(?i)\b(?:stands for|expands to|short for)\b`), "expands_to"},
	{regexp.MustCompile(`(?i)\b(?:is a|is an|is a kind of|is a type of)\b`), "is_a"},
	{regexp.MustCompile(`(?i)\bpart of\b`), "part_of"},
}

// relationTypeBetween looks for one of relationVerbPatterns on the span of
// text strictly between two consecutive key-entity mentions, returning the
// matched relation type or the "co_occurs_with" fallback.
func relationTypeBetween(text, source, target string) string {
	si := strings.Index(strings.ToLower(text), strings.ToLower(source))
	if si < 0 {
		return "co_occurs_with"
	}
	after := text[si+len(source):]
	ti := strings.Index(strings.ToLower(after), strings.ToLower(target))
	if ti < 0 {
		return "co_occurs_with"
	}
	between := after[:ti]
	for _, p := range relationVerbPatterns {
		if p.re.MatchString(between) {
			return p.kind
		}
	}
	return "co_occurs_with"
}

// Stats reports one consolidation run's outcome, per spec §4.7.
type Stats struct {
	MemoriesProcessed    int
	EntitiesExtracted    int
	RelationshipsCreated int
	ConflictsDetected    int
	MemoriesPruned       int
	SkillsExtracted      int
	DurationMS           int64
}

// Pipeline wires together the tiers consolidation touches.
type Pipeline struct {
	working  working.Store
	semantic *semantic.Store
	skills   *skills.Library
	detector *conflicts.Detector
	embedder embedding.Provider
	logger   *slog.Logger
}

// New constructs a Pipeline. logger defaults to slog.Default() if nil.
func New(workingStore working.Store, semanticStore *semantic.Store, skillLibrary *skills.Library, embedder embedding.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		working:  workingStore,
		semantic: semanticStore,
		skills:   skillLibrary,
		detector: conflicts.New(semanticStore),
		embedder: embedder,
		logger:   logger,
	}
}

// Run executes the nine phases across every namespace with pending
// working-tier records or with entities in the semantic tier, so a
// namespace with no pending records still gets decay, conflict detection,
// and pruning. Per-namespace work is independent and runs concurrently;
// per-record errors within a namespace are logged and do not abort the
// namespace's remaining records.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	start := time.Now()

	namespaces, err := p.working.ListNamespaces(ctx)
	if err != nil {
		return Stats{}, err
	}
	rows, err := p.semantic.DB().QueryContext(ctx, `SELECT DISTINCT namespace FROM entities`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var ns string
		if rows.Scan(&ns) == nil && !slices.Contains(namespaces, ns) {
			namespaces = append(namespaces, ns)
		}
	}
	_ = rows.Close()

	var (
		group   errgroup.Group
		results = make([]Stats, len(namespaces))
	)
	group.SetLimit(maxParallelNamespaces)
	for i, ns := range namespaces {
		group.Go(func() error {
			stats, err := p.runNamespace(ctx, ns)
			if err != nil {
				p.logger.Warn("consolidation: namespace failed", "namespace", ns, "error", err)
				return nil
			}
			results[i] = stats
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Stats{}, err
	}

	var total Stats
	for _, s := range results {
		total.MemoriesProcessed += s.MemoriesProcessed
		total.EntitiesExtracted += s.EntitiesExtracted
		total.RelationshipsCreated += s.RelationshipsCreated
		total.ConflictsDetected += s.ConflictsDetected
		total.MemoriesPruned += s.MemoriesPruned
		total.SkillsExtracted += s.SkillsExtracted
	}
	total.DurationMS = time.Since(start).Milliseconds()
	return total, nil
}

func (p *Pipeline) runNamespace(ctx context.Context, namespace string) (Stats, error) {
	var stats Stats

	// Phase 1: snapshot.
	records, err := p.working.Recent(ctx, namespace, -1)
	if err != nil {
		return stats, err
	}

	// Phase 2: extract entities, preferences, and relationships.
	touched := make(map[uuid.UUID]bool)
	for _, rec := range records {
		if err := p.extractRecord(ctx, namespace, rec, touched, &stats); err != nil {
			p.logger.Warn("consolidation: record extraction failed", "namespace", namespace, "conversation_id", rec.ConversationID, "error", err)
			continue
		}
		stats.MemoriesProcessed++
	}

	// Phase 3: temporal decay over every relationship in the namespace.
	if _, err := p.semantic.ApplyDecay(ctx, namespace, semantic.DecayBaseDays, time.Now()); err != nil {
		p.logger.Warn("consolidation: decay failed", "namespace", namespace, "error", err)
	}

	// Phase 4: conflict detection.
	conflictResult, err := p.detector.Run(ctx, namespace)
	if err != nil {
		p.logger.Warn("consolidation: conflict detection failed", "namespace", namespace, "error", err)
	} else {
		stats.ConflictsDetected = conflictResult.ConflictsDetected
	}

	// Phase 5: prune weak relationships.
	pruneResult, err := p.semantic.PruneWeakRelationships(ctx, namespace,
		semantic.PruneMaxStrength, semantic.PruneMaxAccessCount, semantic.PruneMinAgeDays, time.Now())
	if err != nil {
		p.logger.Warn("consolidation: prune failed", "namespace", namespace, "error", err)
	} else {
		stats.MemoriesPruned = pruneResult.Pruned
	}

	// Phase 6: extract skills from positive-feedback records.
	for _, rec := range records {
		if !positiveFeedbackIntents[rec.UserIntent] {
			continue
		}
		if err := p.extractSkill(ctx, namespace, rec, &stats); err != nil {
			p.logger.Warn("consolidation: skill extraction failed", "namespace", namespace, "conversation_id", rec.ConversationID, "error", err)
		}
	}

	// Phase 7: recompute stale relational vectors.
	if _, err := p.skills.RefreshRelationalVectors(ctx, skills.CoOccurrenceThreshold); err != nil {
		p.logger.Warn("consolidation: relational vector refresh failed", "namespace", namespace, "error", err)
	}

	// Phase 8: backup metadata.
	memoryCount, _ := p.semantic.CountMemories(ctx, namespace)
	entities, _ := p.semantic.ListRelationships(ctx, namespace)
	conflictCount, _ := p.semantic.CountConflicts(ctx, namespace)
	_, err = p.semantic.InsertBackupMetadata(ctx, model.BackupMetadata{
		Namespace:         namespace,
		BackupType:        model.BackupConsolidation,
		Status:            "complete",
		MemoryCount:       memoryCount,
		RelationshipCount: len(entities),
		Notes:             fmt.Sprintf("conflicts=%d skills_extracted=%d", conflictCount, stats.SkillsExtracted),
	})
	if err != nil {
		p.logger.Warn("consolidation: backup metadata failed", "namespace", namespace, "error", err)
	}

	// Phase 9: clear processed working-tier records.
	if len(records) > 0 {
		if err := p.working.Clear(ctx, namespace); err != nil {
			p.logger.Warn("consolidation: clear working tier failed", "namespace", namespace, "error", err)
		}
	}

	return stats, nil
}

func (p *Pipeline) extractRecord(ctx context.Context, namespace string, rec model.Conversation, touched map[uuid.UUID]bool, stats *Stats) error {
	var prevEntity *model.Entity
	var prevName string
	for _, name := range rec.KeyEntities {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ent, err := p.semantic.UpsertEntity(ctx, model.Entity{Namespace: namespace, Name: name, Type: model.EntityConcept})
		if err != nil {
			return err
		}
		if !touched[ent.ID] {
			touched[ent.ID] = true
			stats.EntitiesExtracted++
		}
		if prevEntity != nil {
			relType := relationTypeBetween(rec.FullText, prevName, name)
			if _, err := p.semantic.UpsertRelationship(ctx, model.Relationship{
				Namespace: namespace, SourceID: prevEntity.ID, TargetID: ent.ID,
				RelationType: relType, Strength: 0.5, Evidence: []uuid.UUID{rec.ConversationID},
			}); err != nil {
				return err
			}
			stats.RelationshipsCreated++
		}
		prevEntity = &ent
		prevName = name
	}

	if match := preferencePattern.FindStringSubmatch(rec.FullText); match != nil {
		value := strings.TrimRight(strings.TrimSpace(match[1]), ".!?")
		topic := "general"
		if len(rec.Topics) > 0 {
			topic = rec.Topics[0]
		}
		entityName := topic + "_preference"
		ent, err := p.semantic.UpsertEntity(ctx, model.Entity{Namespace: namespace, Name: entityName, Type: model.EntityPreference})
		if err != nil {
			return err
		}
		if !touched[ent.ID] {
			touched[ent.ID] = true
			stats.EntitiesExtracted++
		}
		convID := rec.ConversationID
		if _, err := p.semantic.UpsertFact(ctx, model.Fact{
			Namespace: namespace, EntityID: ent.ID, Property: "value", Value: value,
			Confidence: 0.9, ValidFrom: rec.Timestamp, SourceConversation: &convID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) extractSkill(ctx context.Context, namespace string, rec model.Conversation, stats *Stats) error {
	if len(rec.Topics) == 0 {
		return nil
	}
	var created []uuid.UUID
	for _, topic := range rec.Topics {
		name := strings.TrimSpace(topic)
		if name == "" {
			continue
		}
		existing, found, err := p.findSkillByName(ctx, namespace, name)
		if err != nil {
			return err
		}
		if found {
			created = append(created, existing)
			continue
		}
		sk := model.Skill{
			Namespace: namespace, Name: name, Summary: truncate(rec.FullText, 200),
			Description: rec.FullText, Category: "extracted", Triggers: []string{rec.UserIntent},
		}
		if p.embedder != nil {
			if vec, err := p.embedder.Embed(ctx, skills.EmbeddingText(sk.Name, sk.Description, sk.Category, sk.Triggers)); err == nil {
				sk.Embedding = vec
			} else {
				p.logger.Warn("consolidation: skill embedding failed", "namespace", namespace, "skill", name, "error", err)
			}
		}
		sk, err = p.skills.UpsertSkill(ctx, sk)
		if err != nil {
			return err
		}
		stats.SkillsExtracted++
		created = append(created, sk.ID)
	}
	for i := 0; i < len(created); i++ {
		for j := i + 1; j < len(created); j++ {
			if err := p.skills.RecordCoOccurrence(ctx, created[i], created[j], skills.CoOccurrenceThreshold); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) findSkillByName(ctx context.Context, namespace, name string) (uuid.UUID, bool, error) {
	summaries, err := p.skills.Summaries(ctx, namespace, -1, "")
	if err != nil {
		return uuid.UUID{}, false, err
	}
	for _, s := range summaries {
		if s.Name == name {
			return s.ID, true, nil
		}
	}
	return uuid.UUID{}, false, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
