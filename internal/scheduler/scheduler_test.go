package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/consolidation"
	"github.com/ashita-ai/vesper/internal/embedding"
	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/skills"
	"github.com/ashita-ai/vesper/internal/vecutil"
	"github.com/ashita-ai/vesper/internal/working"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	v := make([]float32, vecutil.Dimensions)
	v[0] = 1
	return vecutil.Normalize(v), nil
}
func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = s.Embed(ctx, texts[i])
	}
	return out, nil
}
func (stubEmbedder) Dimensions() int             { return vecutil.Dimensions }
func (stubEmbedder) Health(context.Context) error { return nil }

var _ embedding.Provider = stubEmbedder{}

func TestNextDailyBoundaryBeforeHour(t *testing.T) {
	from := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC)
	got := NextDailyBoundary(from, 3)
	want := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)
}

func TestNextDailyBoundaryAfterHourRollsToNextDay(t *testing.T) {
	from := time.Date(2026, 8, 1, 4, 0, 0, 0, time.UTC)
	got := NextDailyBoundary(from, 3)
	want := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)
}

func TestNextDailyBoundaryExactlyOnHourRollsToNextDay(t *testing.T) {
	from := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	got := NextDailyBoundary(from, 3)
	want := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, want, got)
}

func newTestScheduler(t *testing.T) (*Scheduler, *semantic.Store, working.Store) {
	t.Helper()
	ctx := context.Background()

	w, err := working.NewBadgerStore(filepath.Join(t.TempDir(), "working"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	s, err := semantic.Open(ctx, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lib := skills.New(s.DB())
	pipeline := consolidation.New(w, s, lib, stubEmbedder{}, nil)

	return New(pipeline, s, 3, nil), s, w
}

func TestMissedTickFalseWhenNoPriorConsolidation(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	stale, err := sched.missedTick(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestMissedTickTrueWhenLastRunOverOnePeriodStale(t *testing.T) {
	sched, sem, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := sem.InsertBackupMetadata(ctx, model.BackupMetadata{
		Namespace:       "default",
		BackupTimestamp: time.Now().Add(-48 * time.Hour),
		BackupType:      model.BackupConsolidation,
		Status:          "complete",
	})
	require.NoError(t, err)

	stale, err := sched.missedTick(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestMissedTickFalseWhenLastRunRecent(t *testing.T) {
	sched, sem, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := sem.InsertBackupMetadata(ctx, model.BackupMetadata{
		Namespace:       "default",
		BackupTimestamp: time.Now().Add(-time.Hour),
		BackupType:      model.BackupConsolidation,
		Status:          "complete",
	})
	require.NoError(t, err)

	stale, err := sched.missedTick(ctx)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestStartFiresStartupRunAndStopsOnCancel(t *testing.T) {
	sched, sem, w := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, w.StoreRecord(ctx, model.Conversation{
		ConversationID: uuid.New(), Namespace: "default", Timestamp: time.Now(),
		FullText: "a memory worth consolidating", Topics: []string{"chit_chat"},
	}))

	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rows, err := sem.ListBackupMetadata(context.Background(), "default")
		return err == nil && len(rows) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
