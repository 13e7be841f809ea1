package knowledge

import (
	"math"
	"sort"
)

// DefaultSimilarityThreshold filters weak vector matches before the lexical
// fallback fills the remaining slots.
const DefaultSimilarityThreshold = 0.5

// ScoredItem pairs an item with the similarity that surfaced it.
type ScoredItem struct {
	Item  Item
	Score float64
}

// cosineSimilarity is dot(a,b) / (|a| * |b|). Mismatched lengths or a
// zero-magnitude vector yield 0 instead of an error; the metric is scale
// invariant for any positive scaling of either operand.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankByVector scores every embedded candidate against the query vector,
// drops results below the threshold, and returns the top entries highest
// first. Candidates without a vector are silently excluded. Equal scores
// break deterministically by id.
func rankByVector(query []float32, candidates []Item, threshold float64, limit int) []ScoredItem {
	if len(query) == 0 {
		return nil
	}

	scored := make([]ScoredItem, 0, len(candidates))
	for _, candidate := range candidates {
		vector := candidate.Vector()
		if vector == nil {
			continue
		}
		score := cosineSimilarity(query, vector)
		if score < threshold {
			continue
		}
		scored = append(scored, ScoredItem{Item: candidate, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
