package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the numeric knobs spec.md §9 leaves to the implementer.
// Defaults match the spec's stated values; LoadTuning can override any
// subset from a YAML file. The engine packages use their own constants
// (semantic.DecayBaseDays, semantic.Prune*, semantic.PPR*, skills.RRFK,
// skills.CoOccurrenceThreshold, router.FastPathThreshold) and do not read
// a Tuning value, and cmd/vesper does not call LoadTuning.
type Tuning struct {
	DecayBaseDays          float64 `yaml:"decay_base_days"`
	PruneMinAgeDays        float64 `yaml:"prune_min_age_days"`
	PruneMaxStrength       float64 `yaml:"prune_max_strength"`
	PruneMaxAccessCount    int     `yaml:"prune_max_access_count"`
	ReinforcementIncrement float64 `yaml:"reinforcement_increment"`
	PPRDamping             float64 `yaml:"ppr_damping"`
	PPRMaxIterations       int     `yaml:"ppr_max_iterations"`
	PPRConvergence         float64 `yaml:"ppr_convergence"`
	PPRReverseEdgeWeight   float64 `yaml:"ppr_reverse_edge_weight"`
	RRFK                   int     `yaml:"rrf_k"`
	CoOccurrenceThreshold  int     `yaml:"co_occurrence_threshold"`
	FastPathSimilarity     float64 `yaml:"fast_path_similarity"`
}

// DefaultTuning returns spec.md's stated defaults.
func DefaultTuning() Tuning {
	return Tuning{
		DecayBaseDays:          30,
		PruneMinAgeDays:        90,
		PruneMaxStrength:       0.05,
		PruneMaxAccessCount:    3,
		ReinforcementIncrement: 0.2,
		PPRDamping:             0.85,
		PPRMaxIterations:       50,
		PPRConvergence:         1e-6,
		PPRReverseEdgeWeight:   0.5,
		RRFK:                   60,
		CoOccurrenceThreshold:  2,
		FastPathSimilarity:     0.85,
	}
}

// LoadTuning returns DefaultTuning, overridden field-by-field by path if
// path is non-empty. A missing file is an error; an empty path is not.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("config: read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("config: parse tuning file: %w", err)
	}
	return t, nil
}
