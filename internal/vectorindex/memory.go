package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/vecutil"
)

// MemoryIndex is an in-process Index used when VECTOR_URL is unset — a
// brute-force cosine scan over a mutex-guarded map. Functionally complete
// for the Index contract; not meant to scale past a few tens of thousands
// of points per collection.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]Point
	dims        map[string]int
}

// NewMemoryIndex constructs an empty in-process index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		collections: make(map[string]map[uuid.UUID]Point),
		dims:        make(map[string]int),
	}
}

func (m *MemoryIndex) InitCollection(_ context.Context, name string, dim int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[uuid.UUID]Point)
		m.dims[name] = dim
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, collection string, p Point) error {
	if p.ID == uuid.Nil {
		return errkind.New(errkind.InvalidInput, false, "vectorindex: id must be a valid UUID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return errkind.New(errkind.NotFound, false, "vectorindex: collection "+collection+" not found")
	}
	if dim, ok := m.dims[collection]; ok && dim > 0 && len(p.Vector) != dim {
		return errkind.New(errkind.InvalidInput, false, "vectorindex: vector dimension mismatch")
	}
	coll[p.ID] = p
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, errkind.New(errkind.NotFound, false, "vectorindex: collection "+collection+" not found")
	}

	results := make([]ScoredPoint, 0, len(coll))
	for _, p := range coll {
		results = append(results, ScoredPoint{
			ID:      p.ID,
			Score:   vecutil.Cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK >= 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) Delete(_ context.Context, collection string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return errkind.New(errkind.NotFound, false, "vectorindex: collection "+collection+" not found")
	}
	delete(coll, id)
	return nil
}

func (m *MemoryIndex) Stats(_ context.Context, collection string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return Stats{}, errkind.New(errkind.NotFound, false, "vectorindex: collection "+collection+" not found")
	}
	return Stats{Points: len(coll), Indexed: len(coll)}, nil
}

func (m *MemoryIndex) Health(_ context.Context) error { return nil }

func (m *MemoryIndex) Close() error { return nil }
