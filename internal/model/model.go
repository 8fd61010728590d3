// Package model defines the persistent record types shared across tiers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is used when a caller omits a namespace.
const DefaultNamespace = "default"

// EntityType is the closed set of entity kinds the semantic tier tracks.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityProject    EntityType = "project"
	EntityConcept    EntityType = "concept"
	EntityPreference EntityType = "preference"
)

// Conversation is a Working Tier record: one ingested conversational episode.
type Conversation struct {
	ConversationID uuid.UUID
	Namespace      string
	Timestamp      time.Time
	FullText       string
	Embedding      []float32 // unit vector, dim configurable (default 1024); nil if embedding failed
	KeyEntities    []string
	Topics         []string
	UserIntent     string
}

// Entity is a node in the semantic knowledge graph.
type Entity struct {
	ID            uuid.UUID
	Namespace     string
	Name          string
	Type          EntityType
	Description   string
	Confidence    float64
	CreatedAt     time.Time
	LastAccessed  time.Time
	AccessCount   int
}

// Relationship is a directed, weighted, decaying edge between two entities.
type Relationship struct {
	ID              uuid.UUID
	Namespace       string
	SourceID        uuid.UUID
	TargetID        uuid.UUID
	RelationType    string
	Strength        float64
	Evidence        []uuid.UUID // conversation ids
	CreatedAt       time.Time
	LastReinforced  time.Time
}

// Fact is a temporally-scoped property value attached to an entity.
type Fact struct {
	ID                 uuid.UUID
	Namespace          string
	EntityID           uuid.UUID
	Property           string
	Value              string
	Confidence         float64
	ValidFrom          time.Time
	ValidUntil         *time.Time // nil means unbounded (valid_until = +inf)
	SourceConversation *uuid.UUID
}

// ConflictType is the closed set of conflict rules the detector applies.
type ConflictType string

const (
	ConflictTemporal         ConflictType = "temporal"
	ConflictContradiction    ConflictType = "contradiction"
	ConflictPreferenceShift  ConflictType = "preference_shift"
)

// ConflictSeverity ranks how disruptive a conflict is.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// ResolutionStatus tracks caller-driven (never automatic) conflict handling.
type ResolutionStatus string

const (
	ResolutionOpen         ResolutionStatus = "open"
	ResolutionAcknowledged ResolutionStatus = "acknowledged"
	ResolutionSuperseded   ResolutionStatus = "superseded"
)

// Conflict is an immutable record of a detected pairwise inconsistency.
type Conflict struct {
	ID                uuid.UUID
	Namespace         string
	FactID1           uuid.UUID
	FactID2           uuid.UUID
	ConflictType      ConflictType
	Description       string
	Severity          ConflictSeverity
	ResolutionStatus  ResolutionStatus
	DetectedAt        time.Time
}

// CodeType distinguishes inline skill code from a reference to external code.
type CodeType string

const (
	CodeInline    CodeType = "inline"
	CodeReference CodeType = "reference"
)

// Skill is a reusable procedural pattern in the Procedural Tier.
type Skill struct {
	ID                  uuid.UUID
	Namespace           string
	Name                string
	Summary             string // <= ~50 tokens, used for lazy injection
	Description         string
	Category            string
	Triggers            []string // ordered, <= 5
	SuccessCount        int
	FailureCount        int
	AvgUserSatisfaction float64
	Code                string
	CodeType            CodeType
	Prerequisites       []string
	UsesSkills          []uuid.UUID
	UsedBySkills        []uuid.UUID
	Embedding           []float32 // 1024-dim unit, nil if not yet computed
	IsArchived          bool
	CreatedAt           time.Time
	LastModified        time.Time
	LastUsed            *time.Time
	Version             int
}

// QualityScore derives the skill's quality per spec §3.6:
//
//	quality = avg_satisfaction * (success / (success+failure))
//
// with a 0.5x penalty when the skill has never been exercised (untested).
func (s Skill) QualityScore() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return s.AvgUserSatisfaction * 0.5
	}
	rate := float64(s.SuccessCount) / float64(total)
	return s.AvgUserSatisfaction * rate
}

// SkillRelationship is an undirected (canonically-ordered) co-occurrence edge
// between two skills, lazily upgraded to carry a relational vector.
type SkillRelationship struct {
	SkillID1           uuid.UUID // canonical: SkillID1 < SkillID2 (string compare)
	SkillID2           uuid.UUID
	RelationshipType   string
	CoOccurrenceCount  int
	RelationalVector   []float32 // emb(skill2) - emb(skill1); nil until threshold reached
}

// BackupType distinguishes scheduled consolidation snapshots from manual ones.
type BackupType string

const (
	BackupConsolidation BackupType = "consolidation"
	BackupManual        BackupType = "manual"
)

// Memory is the durable, graph-resident record backing store_memory: the
// canonical copy of ingested content, independent of the Working Tier's
// ephemeral per-namespace ring and of the vector index's point payload.
type Memory struct {
	ID          uuid.UUID
	Namespace   string
	Content     string
	MemoryType  string
	Metadata    map[string]string
	AgentID     string
	TaskID      string
	ContentHash string // sha256 of namespace+content, for idempotent re-store
	HasEmbedding bool
	CreatedAt   time.Time
}

// BackupMetadata records a point-in-time consolidation/backup summary.
type BackupMetadata struct {
	ID                 uuid.UUID
	Namespace          string
	BackupTimestamp    time.Time
	BackupType         BackupType
	Status             string
	MemoryCount        int
	EntityCount        int
	RelationshipCount  int
	ExpiresAt          time.Time
	Notes              string
}
