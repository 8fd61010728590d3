// Package conflicts implements the rule-based conflict detector: temporal
// overlap, direct contradiction, and preference-shift rules over a
// namespace's facts. Detection is pure — it reads facts and entities and
// writes conflict records plus confidence adjustments, never values.
package conflicts

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// MaxConfidenceAfterConflict is the ceiling both facts' confidence is
// clamped to once a conflict is recorded between them.
const MaxConfidenceAfterConflict = 0.5

// Store is the storage surface the detector needs, satisfied by
// *semantic.Store.
type Store interface {
	ListFactsInNamespace(ctx context.Context, namespace string) ([]model.Fact, error)
	GetEntityByID(ctx context.Context, id uuid.UUID) (model.Entity, error)
	InsertConflict(ctx context.Context, c model.Conflict) (model.Conflict, bool, error)
	SetFactConfidence(ctx context.Context, id uuid.UUID, confidence float64) error
}

// Detector scans a namespace's facts for conflicts.
type Detector struct {
	store Store
}

// New returns a Detector backed by store.
func New(store Store) *Detector {
	return &Detector{store: store}
}

// Result summarizes one detection pass.
type Result struct {
	ConflictsDetected int
}

// Run groups namespace's facts by (entity, property) and applies the
// temporal, contradiction, and preference-shift rules to every pair with
// differing values. Detection is idempotent: InsertConflict's unique
// constraint means re-running over unchanged facts reports the same
// conflicts without inflating the count.
func (d *Detector) Run(ctx context.Context, namespace string) (Result, error) {
	facts, err := d.store.ListFactsInNamespace(ctx, namespace)
	if err != nil {
		return Result{}, err
	}

	groups := groupByEntityProperty(facts)
	entityTypes := make(map[uuid.UUID]model.EntityType)

	var result Result
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ValidFrom.Before(group[j].ValidFrom) })

		entityID := group[0].EntityID
		entType, ok := entityTypes[entityID]
		if !ok {
			ent, err := d.store.GetEntityByID(ctx, entityID)
			if err != nil {
				return result, err
			}
			entType = ent.Type
			entityTypes[entityID] = entType
		}

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				f1, f2 := group[i], group[j]
				if f1.Value == f2.Value {
					continue
				}

				conflictType, ok := classify(f1, f2, entType)
				if !ok {
					continue
				}

				inserted, err := d.recordConflict(ctx, namespace, f1, f2, conflictType)
				if err != nil {
					return result, err
				}
				if inserted {
					result.ConflictsDetected++
				}
			}
		}
	}
	return result, nil
}

// classify applies the three rules in priority order: preference entities
// always yield preference_shift; two open-ended facts with differing
// values are a direct contradiction; any other overlapping interval is a
// temporal conflict. Non-overlapping, non-preference facts are not a
// conflict.
func classify(f1, f2 model.Fact, entType model.EntityType) (model.ConflictType, bool) {
	if entType == model.EntityPreference {
		return model.ConflictPreferenceShift, true
	}
	if f1.ValidUntil == nil && f2.ValidUntil == nil {
		return model.ConflictContradiction, true
	}
	if intervalsOverlap(f1, f2) {
		return model.ConflictTemporal, true
	}
	return "", false
}

func intervalsOverlap(f1, f2 model.Fact) bool {
	before1 := f1.ValidUntil == nil || f2.ValidFrom.Before(*f1.ValidUntil)
	before2 := f2.ValidUntil == nil || f1.ValidFrom.Before(*f2.ValidUntil)
	return before1 && before2
}

func (d *Detector) recordConflict(ctx context.Context, namespace string, f1, f2 model.Fact, conflictType model.ConflictType) (bool, error) {
	severity := model.SeverityMedium
	if conflictType == model.ConflictContradiction {
		severity = model.SeverityHigh
	}

	_, inserted, err := d.store.InsertConflict(ctx, model.Conflict{
		Namespace:    namespace,
		FactID1:      f1.ID,
		FactID2:      f2.ID,
		ConflictType: conflictType,
		Description:  describe(conflictType, f1, f2),
		Severity:     severity,
	})
	if err != nil {
		return false, errkind.Wrap(errkind.Internal, false, "conflicts: insert conflict", err)
	}
	if !inserted {
		return false, nil
	}

	if err := d.store.SetFactConfidence(ctx, f1.ID, capConfidence(f1.Confidence)); err != nil {
		return true, err
	}
	if err := d.store.SetFactConfidence(ctx, f2.ID, capConfidence(f2.Confidence)); err != nil {
		return true, err
	}
	return true, nil
}

func capConfidence(c float64) float64 {
	if c > MaxConfidenceAfterConflict {
		return MaxConfidenceAfterConflict
	}
	return c
}

func describe(t model.ConflictType, f1, f2 model.Fact) string {
	switch t {
	case model.ConflictPreferenceShift:
		return "preference changed from " + f1.Value + " to " + f2.Value
	case model.ConflictContradiction:
		return "conflicting values " + f1.Value + " and " + f2.Value + " for the same property"
	default:
		return "overlapping validity with differing values " + f1.Value + " and " + f2.Value
	}
}

type groupKey struct {
	entityID uuid.UUID
	property string
}

func groupByEntityProperty(facts []model.Fact) [][]model.Fact {
	index := make(map[groupKey]int)
	var groups [][]model.Fact
	for _, f := range facts {
		key := groupKey{entityID: f.EntityID, property: f.Property}
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], f)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []model.Fact{f})
	}
	return groups
}
