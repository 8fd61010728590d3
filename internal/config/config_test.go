package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"VECTOR_URL", "EMBEDDING_URL", "WORKING_TIER_URL", "GRAPH_DB_PATH",
		"VESPER_EMBEDDING_DIMENSIONS", "VESPER_WORKING_CAPACITY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, 5, cfg.WorkingCapacity)
	assert.Equal(t, 3, cfg.ConsolidationHour)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("VESPER_EMBEDDING_DIMENSIONS", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadHour(t *testing.T) {
	cfg := Config{GraphDBPath: "x", WorkingCapacity: 1, WorkingTTL: 1, ConsolidationHour: 99, EmbeddingDimensions: 1}
	assert.Error(t, cfg.Validate())
}

func TestLoadTuningOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decay_base_days: 14\nppr_damping: 0.9\n"), 0o600))

	tun, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 14.0, tun.DecayBaseDays)
	assert.Equal(t, 0.9, tun.PPRDamping)
	assert.Equal(t, DefaultTuning().RRFK, tun.RRFK)
}

func TestLoadTuningEmptyPath(t *testing.T) {
	tun, err := LoadTuning("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), tun)
}
