// Package working implements the Working Tier contract (C3): a fast
// associative cache of the last N conversation records per namespace, with
// embedded vectors for cosine search. Backed by an embedded BadgerDB by
// default, or Redis when WORKING_TIER_URL names a redis:// endpoint.
package working

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
	"github.com/ashita-ai/vesper/internal/vecutil"
)

// Capacity is the per-namespace ring size (spec §4.3: N=5).
const Capacity = 5

// TTL is the wall-clock eviction cap for a working-tier record (7 days).
const TTL = 7 * 24 * time.Hour

// Scored pairs a conversation with its cosine similarity to a query vector.
type Scored struct {
	Record     model.Conversation
	Similarity float64
}

// Store is the Working Tier contract (C3).
type Store interface {
	// StoreRecord persists a conversation, enforcing the per-namespace
	// ring cap (N=5) and the TTL (7 days). Both caps are enforced on write.
	StoreRecord(ctx context.Context, rec model.Conversation) error
	// Search returns the top-k records in namespace ranked by cosine
	// similarity to queryVec, descending. Empty cache yields [].
	Search(ctx context.Context, namespace string, queryVec []float32, k int) ([]Scored, error)
	// Recent returns up to k most recently stored records in namespace,
	// newest first.
	Recent(ctx context.Context, namespace string, k int) ([]model.Conversation, error)
	// ListNamespaces returns every namespace with at least one live record.
	ListNamespaces(ctx context.Context) ([]string, error)
	// Delete removes a single record from the ring, if present.
	Delete(ctx context.Context, namespace string, id uuid.UUID) error
	// Clear empties a namespace's ring.
	Clear(ctx context.Context, namespace string) error
	// Close releases underlying resources.
	Close() error
}

// rankBySimilarity scores records against queryVec and returns the top-k
// descending, shared by both backend implementations.
func rankBySimilarity(records []model.Conversation, queryVec []float32, k int) []Scored {
	out := make([]Scored, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		out = append(out, Scored{Record: r, Similarity: vecutil.Cosine(queryVec, r.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func validateNamespace(ns string) error {
	if ns == "" {
		return errkind.New(errkind.InvalidInput, false, "working: namespace must not be empty")
	}
	return nil
}

func validateRecord(rec model.Conversation) error {
	if rec.ConversationID == uuid.Nil {
		return errkind.New(errkind.InvalidInput, false, "working: conversation id must not be empty")
	}
	if rec.Namespace == "" {
		return errkind.New(errkind.InvalidInput, false, "working: namespace must not be empty")
	}
	return nil
}
