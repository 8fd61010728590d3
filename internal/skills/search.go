package skills

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/vecutil"
)

// RRFK is the default reciprocal-rank-fusion constant (spec §4.5: k=60).
const RRFK = 60

// Scored pairs a skill id with a ranking score.
type Scored struct {
	SkillID uuid.UUID
	Score   float64
}

// EmbeddingText derives the text embedded for a skill: name, description,
// category, and triggers, in that fixed order (spec §9 open question).
func EmbeddingText(name, description, category string, triggers []string) string {
	text := name + " | " + description + " | " + category + " | "
	for i, t := range triggers {
		if i > 0 {
			text += ", "
		}
		text += t
	}
	return text
}

// SearchByEmbedding ranks skills in namespace by cosine similarity to
// queryVec, descending.
func (l *Library) SearchByEmbedding(ctx context.Context, namespace string, queryVec []float32, limit int) ([]Scored, error) {
	summaries, err := l.Summaries(ctx, namespace, -1, "")
	if err != nil {
		return nil, err
	}

	var out []Scored
	for _, sum := range summaries {
		sk, err := l.LoadFull(ctx, sum.ID)
		if err != nil || len(sk.Embedding) == 0 {
			continue
		}
		out = append(out, Scored{SkillID: sk.ID, Score: vecutil.Cosine(queryVec, sk.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HybridSearch fuses trigger-substring matches with embedding-similarity
// matches via Reciprocal Rank Fusion (spec §4.5: k=60).
func (l *Library) HybridSearch(ctx context.Context, namespace, query string, queryVec []float32, limit int) ([]Scored, error) {
	summaries, err := l.Summaries(ctx, namespace, -1, "")
	if err != nil {
		return nil, err
	}

	var triggerMatches []uuid.UUID
	for _, sum := range summaries {
		sk, err := l.LoadFull(ctx, sum.ID)
		if err != nil {
			continue
		}
		for _, trig := range sk.Triggers {
			if trig != "" && containsFold(query, trig) {
				triggerMatches = append(triggerMatches, sk.ID)
				break
			}
		}
	}

	embeddingMatches, err := l.SearchByEmbedding(ctx, namespace, queryVec, -1)
	if err != nil {
		return nil, err
	}

	fused := make(map[uuid.UUID]float64)
	for rank, id := range triggerMatches {
		fused[id] += 1.0 / float64(RRFK+rank+1)
	}
	for rank, sc := range embeddingMatches {
		fused[sc.SkillID] += 1.0 / float64(RRFK+rank+1)
	}

	out := make([]Scored, 0, len(fused))
	for id, score := range fused {
		out = append(out, Scored{SkillID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SkillID.String() < out[j].SkillID.String()
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// AnalogicalSearch solves target ≈ emb(C) + (emb(B) − emb(A)) and returns
// the closest skill by cosine, excluding a, b, c. Requires all three
// embeddings present; returns (zero, false, nil) otherwise.
func (l *Library) AnalogicalSearch(ctx context.Context, namespace string, a, b, c uuid.UUID) (Scored, bool, error) {
	skA, err := l.LoadFull(ctx, a)
	if err != nil {
		return Scored{}, false, err
	}
	skB, err := l.LoadFull(ctx, b)
	if err != nil {
		return Scored{}, false, err
	}
	skC, err := l.LoadFull(ctx, c)
	if err != nil {
		return Scored{}, false, err
	}
	if len(skA.Embedding) == 0 || len(skB.Embedding) == 0 || len(skC.Embedding) == 0 {
		return Scored{}, false, nil
	}

	target := vecutil.Add(skC.Embedding, vecutil.Sub(skB.Embedding, skA.Embedding))

	summaries, err := l.Summaries(ctx, namespace, -1, "")
	if err != nil {
		return Scored{}, false, err
	}

	excluded := map[uuid.UUID]bool{a: true, b: true, c: true}
	var best Scored
	found := false
	for _, sum := range summaries {
		if excluded[sum.ID] {
			continue
		}
		sk, err := l.LoadFull(ctx, sum.ID)
		if err != nil || len(sk.Embedding) == 0 {
			continue
		}
		score := vecutil.Cosine(target, sk.Embedding)
		if !found || score > best.Score {
			best = Scored{SkillID: sk.ID, Score: score}
			found = true
		}
	}
	return best, found, nil
}
