// Package router implements the Smart Router (C8): regex-first query
// classification, a Working Tier fast path, and per-type fallback dispatch
// across the Semantic and Procedural tiers.
package router

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/embedding"
	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/semantic"
	"github.com/ashita-ai/vesper/internal/skills"
	"github.com/ashita-ai/vesper/internal/vectorindex"
	"github.com/ashita-ai/vesper/internal/working"
)

// QueryType is the closed set of classifications a query can receive.
type QueryType string

const (
	QuerySkill      QueryType = "skill"
	QueryFactual    QueryType = "factual"
	QueryTemporal   QueryType = "temporal"
	QueryPreference QueryType = "preference"
	QueryProject    QueryType = "project"
	QueryComplex    QueryType = "complex"
)

// FastPathThreshold is the Working Tier cosine similarity above which the
// router short-circuits without touching Semantic or Procedural tiers.
const FastPathThreshold = 0.85

// PPRDepth and PPRFactsPerHop bound the project/multi-hop fallback.
const (
	PPRDepth       = 2
	PPRFactsPerHop = 3
)

// RRFK is the reciprocal-rank-fusion constant for the complex-query hybrid
// path (spec §4.8), matching the procedural tier's own k=60 (spec §4.5).
const RRFK = 60

// hybridScanLimit bounds the keyword side of the complex-query hybrid
// search and the vector side's candidate pool.
const hybridScanLimit = 50

var (
	skillPattern      = regexp.MustCompile(`(?i)\b(like before|same as|how you)\b`)
	factualPattern    = regexp.MustCompile(`(?i)\b(what is|who is|where is)\b`)
	temporalPattern   = regexp.MustCompile(`(?i)\b(last week|yesterday|recently|this (morning|week))\b`)
	preferencePattern = regexp.MustCompile(`(?i)\b(prefer|want|favorite)\b`)
	projectPattern    = regexp.MustCompile(`(?i)\b(project|working on|building)\b`)
)

// Classify assigns a query its QueryType by the first matching pattern,
// checked in this fixed order; an unmatched query is complex.
func Classify(query string) QueryType {
	switch {
	case skillPattern.MatchString(query):
		return QuerySkill
	case factualPattern.MatchString(query):
		return QueryFactual
	case temporalPattern.MatchString(query):
		return QueryTemporal
	case preferencePattern.MatchString(query):
		return QueryPreference
	case projectPattern.MatchString(query):
		return QueryProject
	default:
		return QueryComplex
	}
}

// Source identifies which tier produced a result item.
type Source string

const (
	SourceWorking  Source = "working"
	SourceSemantic Source = "semantic"
	SourceSkill    Source = "skill"
	SourceHybrid   Source = "hybrid"
)

// Item is one merged, provenance-tagged result.
type Item struct {
	ID             string
	Score          float64
	Source         Source
	Content        string
	Path           []semantic.PPRHop
	MatchedTrigger string
}

// Result is a Router.Route response.
type Result struct {
	QueryType QueryType
	FastPath  bool
	Items     []Item
}

// Router dispatches a classified query to the cheapest tier that can
// answer it, always probing the Working Tier first.
type Router struct {
	working     working.Store
	semantic    *semantic.Store
	skills      *skills.Library
	embedder    embedding.Provider
	vectorIndex vectorindex.Index
}

// New constructs a Router over the three query-serving tiers. vectorIndex
// may be nil, in which case the complex path falls back to a keyword-only
// scan over the Semantic Tier.
func New(workingStore working.Store, semanticStore *semantic.Store, skillLibrary *skills.Library, embedder embedding.Provider, vecIndex vectorindex.Index) *Router {
	return &Router{working: workingStore, semantic: semanticStore, skills: skillLibrary, embedder: embedder, vectorIndex: vecIndex}
}

// Route classifies query, probes the Working Tier fast path, and falls
// back to the tier appropriate to the classification (spec §4.8).
func (r *Router) Route(ctx context.Context, namespace, query string, lastUsedSkill uuid.UUID) (Result, error) {
	queryType := Classify(query)

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		queryVec = nil
	}

	if queryVec != nil {
		scored, err := r.working.Search(ctx, namespace, queryVec, 1)
		if err != nil {
			return Result{}, err
		}
		if len(scored) > 0 && scored[0].Similarity >= FastPathThreshold {
			return Result{
				QueryType: queryType,
				FastPath:  true,
				Items:     []Item{workingItem(scored[0])},
			}, nil
		}
	}

	var items []Item
	switch queryType {
	case QueryPreference:
		items, err = r.routePreference(ctx, namespace, query)
	case QueryFactual:
		items, err = r.routeFactual(ctx, namespace, query)
	case QueryProject:
		items, err = r.routeProject(ctx, namespace, query)
	case QueryTemporal:
		items, err = r.routeTemporal(ctx, namespace)
	case QuerySkill:
		items, err = r.routeSkill(ctx, namespace, query, queryVec, lastUsedSkill)
	default:
		items, err = r.routeComplex(ctx, namespace, query, queryVec)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{QueryType: queryType, FastPath: false, Items: mergeByID(items)}, nil
}

func workingItem(sc working.Scored) Item {
	return Item{ID: sc.Record.ConversationID.String(), Score: sc.Similarity, Source: SourceWorking, Content: sc.Record.FullText}
}

// routePreference resolves the query's topic (the text around the trigger
// word, best-effort) against indexed preference entities, ranked by
// confidence x temporal decay (spec §4.4/§4.8).
func (r *Router) routePreference(ctx context.Context, namespace, query string) ([]Item, error) {
	topic := extractTopic(query, preferencePattern)
	scores, err := r.semantic.PreferenceQuery(ctx, namespace, topic)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(scores))
	for _, s := range scores {
		out = append(out, Item{ID: s.Entity.ID.String(), Score: s.Score, Source: SourceSemantic, Content: s.Entity.Name})
	}
	return out, nil
}

// routeFactual looks up the entity named in the query and returns its
// top facts.
func (r *Router) routeFactual(ctx context.Context, namespace, query string) ([]Item, error) {
	name := extractTopic(query, factualPattern)
	ent, err := r.semantic.GetEntityByName(ctx, namespace, name)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	facts, err := r.semantic.ListFacts(ctx, ent.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(facts))
	for _, f := range facts {
		out = append(out, Item{ID: f.ID.String(), Score: f.Confidence, Source: SourceSemantic, Content: f.Property + "=" + f.Value})
	}
	return out, nil
}

// routeProject seeds a multi-hop PPR walk from the entity named in the
// query, attaching the traversal path and sampled facts to each hit.
func (r *Router) routeProject(ctx context.Context, namespace, query string) ([]Item, error) {
	name := extractTopic(query, projectPattern)
	seed, err := r.semantic.GetEntityByName(ctx, namespace, name)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	weights, err := r.semantic.PersonalizedPageRankWithFacts(ctx, namespace, []uuid.UUID{seed.ID}, PPRDepth, PPRFactsPerHop)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(weights))
	for _, w := range weights {
		out = append(out, Item{ID: w.EntityID.String(), Score: w.Weight, Source: SourceSemantic, Path: w.Path})
	}
	return out, nil
}

// routeTemporal returns every fact in the namespace, newest valid_from
// first. No date window or result limit is applied.
func (r *Router) routeTemporal(ctx context.Context, namespace string) ([]Item, error) {
	facts, err := r.semantic.ListFactsInNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].ValidFrom.After(facts[j].ValidFrom) })
	out := make([]Item, 0, len(facts))
	for _, f := range facts {
		out = append(out, Item{ID: f.ID.String(), Score: f.Confidence, Source: SourceSemantic, Content: f.Property + "=" + f.Value})
	}
	return out, nil
}

// routeSkill runs the invocation detector first; a confident match short
// circuits to that single skill, otherwise it falls back to hybrid search.
func (r *Router) routeSkill(ctx context.Context, namespace, query string, queryVec []float32, lastUsedSkill uuid.UUID) ([]Item, error) {
	inv, err := r.skills.DetectInvocation(ctx, namespace, query, lastUsedSkill)
	if err != nil {
		return nil, err
	}
	if inv.IsInvocation {
		return []Item{{ID: inv.SkillID.String(), Score: inv.Confidence, Source: SourceSkill, MatchedTrigger: inv.Rule}}, nil
	}
	return r.routeComplex(ctx, namespace, query, queryVec)
}

// routeComplex hybrid-searches memory content: a dense pass over the
// Vector Index plus a keyword scan over recent memories (a memory matches
// when it contains any whitespace-separated query word, ignoring case), fused by
// Reciprocal Rank Fusion (spec §4.8). An uninitialized or unreachable
// Vector Index degrades to the keyword side alone rather than failing
// the query.
func (r *Router) routeComplex(ctx context.Context, namespace, query string, queryVec []float32) ([]Item, error) {
	var vectorRanked []vectorindex.ScoredPoint
	if r.vectorIndex != nil && queryVec != nil {
		points, err := r.vectorIndex.Search(ctx, namespace, queryVec, hybridScanLimit)
		switch {
		case err == nil:
			vectorRanked = points
		case isNotFound(err):
			// collection not yet created for this namespace; nothing indexed.
		default:
			return nil, err
		}
	}

	memories, err := r.semantic.ListRecentMemories(ctx, namespace, hybridScanLimit)
	if err != nil {
		return nil, err
	}
	type memoryMatch struct {
		ID      string
		Content string
	}
	terms := strings.Fields(query)
	var keywordRanked []memoryMatch
	for _, m := range memories {
		matched := len(terms) == 0
		for _, term := range terms {
			if containsFold(m.Content, term) {
				matched = true
				break
			}
		}
		if matched {
			keywordRanked = append(keywordRanked, memoryMatch{ID: m.ID.String(), Content: m.Content})
		}
	}

	fused := make(map[string]float64)
	content := make(map[string]string, len(vectorRanked)+len(keywordRanked))
	for rank, p := range vectorRanked {
		id := p.ID.String()
		fused[id] += 1.0 / float64(RRFK+rank+1)
		if c, ok := p.Payload["content"].(string); ok {
			content[id] = c
		}
	}
	for rank, m := range keywordRanked {
		fused[m.ID] += 1.0 / float64(RRFK+rank+1)
		content[m.ID] = m.Content
	}

	out := make([]Item, 0, len(fused))
	for id, score := range fused {
		out = append(out, Item{ID: id, Score: score, Source: SourceHybrid, Content: content[id]})
	}
	return out, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func isNotFound(err error) bool {
	var e *errkind.Error
	return errors.As(err, &e) && e.Kind == errkind.NotFound
}

// extractTopic pulls the text following pattern's match, falling back to
// the full query when the pattern only matches a bare keyword.
func extractTopic(query string, pattern *regexp.Regexp) string {
	loc := pattern.FindStringIndex(query)
	if loc == nil {
		return strings.TrimSpace(query)
	}
	rest := strings.TrimSpace(query[loc[1]:])
	if rest == "" {
		return strings.TrimSpace(query)
	}
	return rest
}

// mergeByID deduplicates items by id, keeping the highest-scored copy,
// and sorts the result descending by score (spec §4.8: "preserve the
// highest score").
func mergeByID(items []Item) []Item {
	best := make(map[string]Item, len(items))
	for _, it := range items {
		if cur, ok := best[it.ID]; !ok || it.Score > cur.Score {
			best[it.ID] = it
		}
	}
	out := make([]Item, 0, len(best))
	for _, it := range best {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
