package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical direction", func(t *testing.T) {
		assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	})

	t.Run("scale invariant", func(t *testing.T) {
		a := []float32{0.2, 0.5, 0.9}
		b := []float32{2, 5, 9}
		assert.InDelta(t, 1.0, cosineSimilarity(a, b), 1e-6)
	})

	t.Run("orthogonal", func(t *testing.T) {
		assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("opposite", func(t *testing.T) {
		assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-9)
	})

	t.Run("zero magnitude yields zero", func(t *testing.T) {
		assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	})

	t.Run("length mismatch yields zero", func(t *testing.T) {
		assert.Zero(t, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	})

	t.Run("empty vectors yield zero", func(t *testing.T) {
		assert.Zero(t, cosineSimilarity(nil, nil))
	})
}

func embeddedItem(id string, vector []float32) Item {
	model := "test-model"
	return Item{ID: id, Title: id, Embedding: encodeVector(vector), EmbeddingModel: &model}
}

func TestRankByVector(t *testing.T) {
	query := []float32{1, 0}

	t.Run("filters below threshold and sorts by score", func(t *testing.T) {
		candidates := []Item{
			embeddedItem("far", []float32{0, 1}),
			embeddedItem("close", []float32{1, 0.1}),
			embeddedItem("exact", []float32{2, 0}),
		}

		ranked := rankByVector(query, candidates, 0.5, 10)
		require.Len(t, ranked, 2)
		assert.Equal(t, "exact", ranked[0].Item.ID)
		assert.Equal(t, "close", ranked[1].Item.ID)
		assert.Greater(t, ranked[0].Score, ranked[1].Score)
	})

	t.Run("skips candidates without vectors", func(t *testing.T) {
		candidates := []Item{
			{ID: "plain", Title: "plain"},
			embeddedItem("embedded", []float32{1, 0}),
		}
		ranked := rankByVector(query, candidates, 0.5, 10)
		require.Len(t, ranked, 1)
		assert.Equal(t, "embedded", ranked[0].Item.ID)
	})

	t.Run("equal scores break by id", func(t *testing.T) {
		candidates := []Item{
			embeddedItem("bbb", []float32{1, 0}),
			embeddedItem("aaa", []float32{3, 0}),
		}
		ranked := rankByVector(query, candidates, 0.5, 10)
		require.Len(t, ranked, 2)
		assert.Equal(t, "aaa", ranked[0].Item.ID)
		assert.Equal(t, "bbb", ranked[1].Item.ID)
	})

	t.Run("respects limit", func(t *testing.T) {
		candidates := []Item{
			embeddedItem("a", []float32{1, 0}),
			embeddedItem("b", []float32{1, 0.01}),
			embeddedItem("c", []float32{1, 0.02}),
		}
		ranked := rankByVector(query, candidates, 0.5, 2)
		assert.Len(t, ranked, 2)
	})

	t.Run("empty query yields nothing", func(t *testing.T) {
		ranked := rankByVector(nil, []Item{embeddedItem("a", []float32{1})}, 0.5, 10)
		assert.Empty(t, ranked)
	})
}
