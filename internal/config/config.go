// Package config loads and validates Vesper's configuration from
// environment variables, in the teacher's accumulated-errors style.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-derived settings (spec §6.3).
type Config struct {
	VectorURL      string // Qdrant gRPC URL; empty disables Qdrant (falls back to in-process index)
	VectorAPIKey   string
	EmbeddingURL   string // external embedding HTTP service; empty disables embeddings (noop)
	WorkingTierURL string // "redis://..." selects the remote Working Tier backend; empty = local badger
	GraphDBPath    string // SQLite file path for the semantic/procedural tiers
	LogLevel       string

	DataRoot string // root directory for data/logs/docker-data subdirs

	EmbeddingDimensions int
	EmbeddingTimeout    time.Duration
	EmbeddingRetries    int

	// WorkingCapacity and WorkingTTL are parsed and validated only; the
	// working tier uses its own working.Capacity and working.TTL constants.
	WorkingCapacity int           // N most recent conversations retained per namespace
	WorkingTTL      time.Duration // 7 days per spec §3.1

	ConsolidationHour int // local wall-clock hour that triggers daily consolidation

	TuningFile string // optional YAML path for LoadTuning; not loaded by cmd/vesper
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	var errs []error

	home, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(home, ".vesper")

	cfg := Config{
		VectorURL:      envStr("VECTOR_URL", ""),
		VectorAPIKey:   envStr("VECTOR_API_KEY", ""),
		EmbeddingURL:   envStr("EMBEDDING_URL", ""),
		WorkingTierURL: envStr("WORKING_TIER_URL", ""),
		GraphDBPath:    envStr("GRAPH_DB_PATH", filepath.Join(defaultRoot, "data", "graph.db")),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		DataRoot:       envStr("VESPER_DATA_ROOT", defaultRoot),
		TuningFile:     envStr("VESPER_TUNING_FILE", ""),
	}

	cfg.EmbeddingDimensions, errs = collectInt(errs, "VESPER_EMBEDDING_DIMENSIONS", 1024)
	cfg.EmbeddingRetries, errs = collectInt(errs, "VESPER_EMBEDDING_RETRIES", 3)
	cfg.WorkingCapacity, errs = collectInt(errs, "VESPER_WORKING_CAPACITY", 5)
	cfg.ConsolidationHour, errs = collectInt(errs, "VESPER_CONSOLIDATION_HOUR", 3)

	cfg.EmbeddingTimeout, errs = collectDuration(errs, "VESPER_EMBEDDING_TIMEOUT", 10*time.Second)
	cfg.WorkingTTL, errs = collectDuration(errs, "VESPER_WORKING_TTL", 7*24*time.Hour)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("config: VESPER_EMBEDDING_DIMENSIONS must be positive"))
	}
	if c.WorkingCapacity <= 0 {
		errs = append(errs, errors.New("config: VESPER_WORKING_CAPACITY must be positive"))
	}
	if c.WorkingTTL <= 0 {
		errs = append(errs, errors.New("config: VESPER_WORKING_TTL must be positive"))
	}
	if c.ConsolidationHour < 0 || c.ConsolidationHour > 23 {
		errs = append(errs, errors.New("config: VESPER_CONSOLIDATION_HOUR must be 0-23"))
	}
	if c.GraphDBPath == "" {
		errs = append(errs, errors.New("config: GRAPH_DB_PATH must not be empty"))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	return v, nil
}

func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}
