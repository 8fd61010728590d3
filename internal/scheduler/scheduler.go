// Package scheduler fires the Consolidation Pipeline (C10) once at
// startup and then on every local-wall-clock crossing of a configured
// daily boundary, coalescing any ticks missed while the process was down.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/vesper/internal/consolidation"
	"github.com/ashita-ai/vesper/internal/semantic"
)

// DefaultHour is the local hour the daily consolidation boundary crosses
// when VESPER_CONSOLIDATION_HOUR is unset.
const DefaultHour = 3

// Scheduler drives periodic consolidation runs.
type Scheduler struct {
	pipeline *consolidation.Pipeline
	semantic *semantic.Store
	hour     int
	logger   *slog.Logger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a Scheduler that fires pipeline at the given local hour
// (0-23) every day.
func New(pipeline *consolidation.Pipeline, semanticStore *semantic.Store, hour int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if hour < 0 || hour > 23 {
		hour = DefaultHour
	}
	return &Scheduler{pipeline: pipeline, semantic: semanticStore, hour: hour, logger: logger, now: time.Now}
}

// NextDailyBoundary returns the next local time at which the configured
// hour is crossed, strictly after from.
func NextDailyBoundary(from time.Time, hour int) time.Time {
	boundary := time.Date(from.Year(), from.Month(), from.Day(), hour, 0, 0, 0, from.Location())
	if !boundary.After(from) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary
}

// Start fires a non-blocking consolidation run immediately, an additional
// catch-up run if the last recorded consolidation is more than one
// 24-hour period stale, and then blocks the caller's goroutine running a
// timer loop until ctx is cancelled. Callers should invoke it via `go`.
func (s *Scheduler) Start(ctx context.Context) {
	go s.runOnce(ctx, "startup")

	if stale, err := s.missedTick(ctx); err != nil {
		s.logger.Warn("scheduler: missed-tick check failed", "error", err)
	} else if stale {
		go s.runOnce(ctx, "catch_up")
	}

	s.loop(ctx)
}

func (s *Scheduler) missedTick(ctx context.Context) (bool, error) {
	last, found, err := s.semantic.LastConsolidationTimestamp(ctx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return s.now().Sub(last) > 24*time.Hour, nil
}

func (s *Scheduler) loop(ctx context.Context) {
	next := NextDailyBoundary(s.now(), s.hour)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx, "scheduled")
			next = NextDailyBoundary(s.now(), s.hour)
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) {
	stats, err := s.pipeline.Run(ctx)
	if err != nil {
		s.logger.Warn("scheduler: consolidation run failed", "trigger", trigger, "error", err)
		return
	}
	s.logger.Info("scheduler: consolidation run complete", "trigger", trigger,
		"memories_processed", stats.MemoriesProcessed, "conflicts_detected", stats.ConflictsDetected,
		"duration_ms", stats.DurationMS)
}
