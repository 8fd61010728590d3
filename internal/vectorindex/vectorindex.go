// Package vectorindex implements the Vector Index contract (C2): dense
// cosine search and upsert over a named collection, keyed by UUID, with
// opaque JSON payloads. Backed by Qdrant when configured, or an in-process
// brute-force index otherwise so the service needs no external process.
package vectorindex

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
)

// collectionNamePattern enforces spec §4.2's sanitization rule.
var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateCollectionName enforces the [A-Za-z0-9_-]{1,64} contract.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return errkind.New(errkind.InvalidInput, false, "vectorindex: collection name must match [A-Za-z0-9_-]{1,64}")
	}
	return nil
}

// Point is a single vector-indexed record.
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search result.
type ScoredPoint struct {
	ID      uuid.UUID
	Score   float64
	Payload map[string]any
}

// Stats summarizes a collection's size.
type Stats struct {
	Points  int
	Indexed int
}

// Index is the Vector Index contract (C2) every backend implements.
// Upsert is synchronous with indexing: it does not return until the point
// is queryable by Search (spec §4.2).
type Index interface {
	InitCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, p Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error)
	Delete(ctx context.Context, collection string, id uuid.UUID) error
	Stats(ctx context.Context, collection string) (Stats, error)
	Health(ctx context.Context) error
	Close() error
}
