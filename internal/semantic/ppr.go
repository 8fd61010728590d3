package semantic

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// PPRDamping is the default damping factor α = 0.85 (spec §4.4): the walk
// follows an edge with probability α and restarts at the seeds with 1-α.
const PPRDamping = 0.85

// PPRMaxIterations bounds power iteration when the L1 delta hasn't converged.
const PPRMaxIterations = 50

// PPRConvergence is the L1-delta stopping threshold.
const PPRConvergence = 1e-6

// PPRReverseEdgeWeight is the weight given to the implicit reverse edge of
// every relationship, when enabled (spec §9 open question: "outbound plus
// optional half-weight reverse edges").
const PPRReverseEdgeWeight = 0.5

// PPRWeight pairs an entity id with its stationary PPR probability.
type PPRWeight struct {
	EntityID uuid.UUID
	Weight   float64
}

type adjacency struct {
	out map[uuid.UUID][]weightedEdge
}

type weightedEdge struct {
	target       uuid.UUID
	weight       float64
	relationType string
	relationship model.Relationship
}

func buildAdjacency(relationships []model.Relationship, includeReverse bool) adjacency {
	adj := adjacency{out: make(map[uuid.UUID][]weightedEdge)}
	for _, r := range relationships {
		adj.out[r.SourceID] = append(adj.out[r.SourceID], weightedEdge{target: r.TargetID, weight: r.Strength, relationType: r.RelationType, relationship: r})
		if includeReverse {
			adj.out[r.TargetID] = append(adj.out[r.TargetID], weightedEdge{target: r.SourceID, weight: r.Strength * PPRReverseEdgeWeight, relationType: r.RelationType, relationship: r})
		}
	}
	return adj
}

// PersonalizedPageRank computes the stationary distribution of a random walk
// that teleports uniformly back to seedEntities with probability 1-damping,
// restricted to nodes reachable from the seeds within depth hops.
func (s *Store) PersonalizedPageRank(ctx context.Context, namespace string, seedEntities []uuid.UUID, depth int) ([]PPRWeight, error) {
	if len(seedEntities) == 0 {
		return nil, errkind.New(errkind.InvalidInput, false, "semantic: personalized page rank requires at least one seed")
	}
	relationships, err := s.ListRelationships(ctx, namespace)
	if err != nil {
		return nil, err
	}

	adj := buildAdjacency(relationships, true)
	nodes := reachableWithinDepth(adj, seedEntities, depth)
	if len(nodes) == 0 {
		return nil, nil
	}

	scores := powerIteratePPR(adj, nodes, seedEntities, PPRDamping, PPRMaxIterations, PPRConvergence)

	out := make([]PPRWeight, 0, len(scores))
	for id, w := range scores {
		out = append(out, PPRWeight{EntityID: id, Weight: w})
	}

	// Tie-break by access_count then last_accessed (spec §4.4), falling back
	// to the entity id only to keep the order deterministic when both of
	// those are also equal.
	entities := make(map[uuid.UUID]model.Entity, len(out))
	for _, w := range out {
		if e, err := s.GetEntityByID(ctx, w.EntityID); err == nil {
			entities[w.EntityID] = e
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		ei, ej := entities[out[i].EntityID], entities[out[j].EntityID]
		if ei.AccessCount != ej.AccessCount {
			return ei.AccessCount > ej.AccessCount
		}
		if !ei.LastAccessed.Equal(ej.LastAccessed) {
			return ei.LastAccessed.After(ej.LastAccessed)
		}
		return out[i].EntityID.String() < out[j].EntityID.String()
	})
	return out, nil
}

// PPRHop records one traversal step for the "with facts" explainability variant.
type PPRHop struct {
	Source       uuid.UUID
	RelationType string
	Target       uuid.UUID
	Facts        []model.Fact
}

// PPRResultWithFacts augments a PPR weight with the traversal path and the
// top-k facts sampled on the target entity along the way.
type PPRResultWithFacts struct {
	PPRWeight
	Path []PPRHop
}

// PersonalizedPageRankWithFacts runs PersonalizedPageRank and, for each
// result, records the hop path from the nearest seed and attaches the
// top-k facts (by confidence × recency) observed on each hop's target.
func (s *Store) PersonalizedPageRankWithFacts(ctx context.Context, namespace string, seedEntities []uuid.UUID, depth, factsPerHop int) ([]PPRResultWithFacts, error) {
	weights, err := s.PersonalizedPageRank(ctx, namespace, seedEntities, depth)
	if err != nil {
		return nil, err
	}
	relationships, err := s.ListRelationships(ctx, namespace)
	if err != nil {
		return nil, err
	}
	adj := buildAdjacency(relationships, true)

	seedSet := make(map[uuid.UUID]bool, len(seedEntities))
	for _, id := range seedEntities {
		seedSet[id] = true
	}

	out := make([]PPRResultWithFacts, 0, len(weights))
	for _, w := range weights {
		path := shortestPath(adj, seedEntities, w.EntityID, depth)
		hops := make([]PPRHop, 0, len(path))
		for _, edge := range path {
			facts, err := s.ListFacts(ctx, edge.target)
			if err != nil {
				return nil, err
			}
			hops = append(hops, PPRHop{
				Source:       edge.relationship.SourceID,
				RelationType: edge.relationType,
				Target:       edge.target,
				Facts:        topFactsByConfidenceAndRecency(facts, factsPerHop),
			})
		}
		out = append(out, PPRResultWithFacts{PPRWeight: w, Path: hops})
	}
	return out, nil
}

func topFactsByConfidenceAndRecency(facts []model.Fact, k int) []model.Fact {
	sorted := append([]model.Fact{}, facts...)
	sort.Slice(sorted, func(i, j int) bool {
		si := sorted[i].Confidence * decayFactor(sorted[i].ValidFrom)
		sj := sorted[j].Confidence * decayFactor(sorted[j].ValidFrom)
		return si > sj
	})
	if k >= 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// reachableWithinDepth performs a breadth-first traversal from the seeds,
// returning every entity reached within depth hops (seeds included).
func reachableWithinDepth(adj adjacency, seeds []uuid.UUID, depth int) map[uuid.UUID]bool {
	visited := make(map[uuid.UUID]bool)
	frontier := make([]uuid.UUID, 0, len(seeds))
	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			frontier = append(frontier, s)
		}
	}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []uuid.UUID
		for _, n := range frontier {
			for _, e := range adj.out[n] {
				if !visited[e.target] {
					visited[e.target] = true
					next = append(next, e.target)
				}
			}
		}
		frontier = next
	}
	return visited
}

// shortestPath returns the hop sequence from the nearest seed to target via
// BFS, or nil if unreachable within depth.
func shortestPath(adj adjacency, seeds []uuid.UUID, target uuid.UUID, depth int) []weightedEdge {
	type queueItem struct {
		node uuid.UUID
		path []weightedEdge
	}
	visited := make(map[uuid.UUID]bool)
	queue := make([]queueItem, 0, len(seeds))
	for _, s := range seeds {
		if s == target {
			return nil
		}
		visited[s] = true
		queue = append(queue, queueItem{node: s})
	}

	for d := 0; d < depth && len(queue) > 0; d++ {
		var nextQueue []queueItem
		for _, item := range queue {
			for _, e := range adj.out[item.node] {
				if visited[e.target] {
					continue
				}
				path := append(append([]weightedEdge{}, item.path...), e)
				if e.target == target {
					return path
				}
				visited[e.target] = true
				nextQueue = append(nextQueue, queueItem{node: e.target, path: path})
			}
		}
		queue = nextQueue
	}
	return nil
}

// powerIteratePPR runs the damped power-iteration method restricted to
// nodes, teleporting uniformly to seeds.
func powerIteratePPR(adj adjacency, nodes map[uuid.UUID]bool, seeds []uuid.UUID, damping float64, maxIter int, convergence float64) map[uuid.UUID]float64 {
	ordered := make([]uuid.UUID, 0, len(nodes))
	for id := range nodes {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	teleport := make(map[uuid.UUID]float64, len(seeds))
	for _, s := range seeds {
		teleport[s] = 1.0 / float64(len(seeds))
	}

	scores := make(map[uuid.UUID]float64, len(ordered))
	for _, id := range ordered {
		scores[id] = teleport[id]
	}
	total := sumScores(scores)
	if total == 0 {
		return scores
	}
	normalize(scores, total)

	// Precompute out-degree (sum of edge weights restricted to `nodes`) for
	// normalizing transition probability mass.
	outWeight := make(map[uuid.UUID]float64, len(ordered))
	for _, id := range ordered {
		var w float64
		for _, e := range adj.out[id] {
			if nodes[e.target] {
				w += e.weight
			}
		}
		outWeight[id] = w
	}

	for iter := 0; iter < maxIter; iter++ {
		next := make(map[uuid.UUID]float64, len(ordered))
		for _, id := range ordered {
			next[id] = (1 - damping) * teleport[id]
		}
		for _, id := range ordered {
			mass := scores[id]
			if mass == 0 {
				continue
			}
			deg := outWeight[id]
			if deg == 0 {
				// Dangling node: redistribute its mass to the teleport set.
				for _, s := range seeds {
					next[s] += damping * mass * teleport[s]
				}
				continue
			}
			for _, e := range adj.out[id] {
				if !nodes[e.target] {
					continue
				}
				next[e.target] += damping * mass * (e.weight / deg)
			}
		}

		delta := l1Delta(scores, next)
		scores = next
		if delta < convergence {
			break
		}
	}

	total = sumScores(scores)
	if total > 0 {
		normalize(scores, total)
	}
	return scores
}

func sumScores(scores map[uuid.UUID]float64) float64 {
	var total float64
	for _, v := range scores {
		total += v
	}
	return total
}

func normalize(scores map[uuid.UUID]float64, total float64) {
	for id := range scores {
		scores[id] /= total
	}
}

func l1Delta(a, b map[uuid.UUID]float64) float64 {
	var delta float64
	for id, bv := range b {
		delta += math.Abs(bv - a[id])
	}
	return delta
}
