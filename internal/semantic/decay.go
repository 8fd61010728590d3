package semantic

import (
	"context"
	"math"
	"time"

	"github.com/ashita-ai/vesper/internal/errkind"
)

// DecayBaseDays is the default temporal decay time constant in days
// (spec §4.4: strength ← strength × exp(−Δdays/30)).
const DecayBaseDays = 30.0

// PruneMinAgeDays, PruneMaxStrength, and PruneMaxAccessCount are the
// default pruning thresholds (spec §4.4).
const (
	PruneMinAgeDays     = 90.0
	PruneMaxStrength    = 0.05
	PruneMaxAccessCount = 3
)

// DecayResult reports how many relationships were decayed in a pass.
type DecayResult struct {
	Decayed int
}

// ApplyDecay multiplies every relationship's strength in namespace by
// exp(-Δdays/baseDays), where Δdays is measured from last_reinforced.
// A relationship reinforced at the moment of the call (Δt=0) is unchanged.
func (s *Store) ApplyDecay(ctx context.Context, namespace string, baseDays float64, now time.Time) (DecayResult, error) {
	if baseDays <= 0 {
		baseDays = DecayBaseDays
	}
	relationships, err := s.ListRelationships(ctx, namespace)
	if err != nil {
		return DecayResult{}, err
	}

	var result DecayResult
	for _, r := range relationships {
		days := now.Sub(r.LastReinforced).Hours() / 24
		if days <= 0 {
			continue
		}
		newStrength := r.Strength * math.Exp(-days/baseDays)
		if newStrength <= 0 {
			newStrength = 0
		}
		if err := s.UpdateStrength(ctx, r.ID, newStrength); err != nil {
			return result, err
		}
		result.Decayed++
	}
	return result, nil
}

// PruneResult reports how many relationships were removed in a pass.
type PruneResult struct {
	Pruned int
}

// PruneWeakRelationships drops relationships matching
// strength < maxStrength AND access_count < maxAccessCount AND age ≥ minAgeDays,
// where age is the relationship's own age (from created_at) and
// access_count is the source entity's (the relationship's originating
// node, which accrues traversal visits).
func (s *Store) PruneWeakRelationships(ctx context.Context, namespace string, maxStrength float64, maxAccessCount int, minAgeDays float64, now time.Time) (PruneResult, error) {
	relationships, err := s.ListRelationships(ctx, namespace)
	if err != nil {
		return PruneResult{}, err
	}

	var result PruneResult
	for _, r := range relationships {
		age := now.Sub(r.CreatedAt).Hours() / 24
		if age < minAgeDays {
			continue
		}
		if r.Strength >= maxStrength {
			continue
		}
		source, err := s.GetEntityByID(ctx, r.SourceID)
		if err != nil {
			if kindErr, ok := errkind.As(err); ok && kindErr.Kind == errkind.NotFound {
				// Source entity already gone; the relationship is orphaned, prune it.
				if err := s.DeleteRelationship(ctx, r.ID); err != nil {
					return result, err
				}
				result.Pruned++
				continue
			}
			return result, err
		}
		if source.AccessCount >= maxAccessCount {
			continue
		}
		if err := s.DeleteRelationship(ctx, r.ID); err != nil {
			return result, err
		}
		result.Pruned++
	}
	return result, nil
}
