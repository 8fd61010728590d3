package working

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/model"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "working")
	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func conv(ns string, ts time.Time, vec []float32) model.Conversation {
	return model.Conversation{
		ConversationID: uuid.New(),
		Namespace:      ns,
		Timestamp:      ts,
		FullText:       "hello",
		Embedding:      vec,
	}
}

func TestBadgerStoreRingCap(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()
	base := time.Now()

	var last model.Conversation
	for i := 0; i < Capacity+2; i++ {
		c := conv("ns1", base.Add(time.Duration(i)*time.Second), []float32{1, 0})
		require.NoError(t, store.StoreRecord(ctx, c))
		last = c
	}

	recent, err := store.Recent(ctx, "ns1", 100)
	require.NoError(t, err)
	assert.Len(t, recent, Capacity)
	assert.Equal(t, last.ConversationID, recent[0].ConversationID)
}

func TestBadgerStoreSearch(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	a := conv("ns1", time.Now(), []float32{1, 0})
	b := conv("ns1", time.Now(), []float32{0, 1})
	require.NoError(t, store.StoreRecord(ctx, a))
	require.NoError(t, store.StoreRecord(ctx, b))

	results, err := store.Search(ctx, "ns1", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.ConversationID, results[0].Record.ConversationID)
}

func TestBadgerStoreSearchEmptyCache(t *testing.T) {
	store := newTestBadgerStore(t)
	results, err := store.Search(context.Background(), "empty", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBadgerStoreDeleteAndClear(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	a := conv("ns1", time.Now(), []float32{1, 0})
	require.NoError(t, store.StoreRecord(ctx, a))
	require.NoError(t, store.Delete(ctx, "ns1", a.ConversationID))

	recent, err := store.Recent(ctx, "ns1", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	b := conv("ns2", time.Now(), []float32{1, 0})
	require.NoError(t, store.StoreRecord(ctx, b))
	require.NoError(t, store.Clear(ctx, "ns2"))
	recent, err = store.Recent(ctx, "ns2", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestBadgerStoreNamespaceIsolation(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreRecord(ctx, conv("a", time.Now(), []float32{1, 0})))
	require.NoError(t, store.StoreRecord(ctx, conv("b", time.Now(), []float32{1, 0})))

	recentA, err := store.Recent(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, recentA, 1)
}

func TestValidateRecordRejectsMissingNamespace(t *testing.T) {
	err := validateRecord(model.Conversation{ConversationID: uuid.New()})
	assert.Error(t, err)
}
