package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateAssignsID(t *testing.T) {
	store := newTestStore(t)
	item := mustCreate(t, store, &Item{Title: "Hub setup", Content: "Plug in the hub.", ContentKind: KindText})
	assert.NotEmpty(t, item.ID)

	loaded, err := store.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hub setup", loaded.Title)
	assert.Equal(t, "Plug in the hub.", loaded.Content)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteIsFinal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := mustCreate(t, store, &Item{Title: "Obsolete", Content: "Old advice.", ContentKind: KindText})

	require.NoError(t, store.Delete(ctx, item.ID))

	_, err := store.Get(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, item.ID), ErrNotFound)

	results, err := store.SearchLexical(ctx, "obsolete", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStoreSetEmbeddingAndDrift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := mustCreate(t, store, &Item{Title: "Siren volume", Content: "Adjust via the app.", ContentKind: KindText})

	pending, err := store.ListUnembedded(ctx, "model-a")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.SetEmbedding(ctx, item.ID, []float32{0.1, 0.2}, "model-a"))

	loaded, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, loaded.Vector())
	assert.True(t, loaded.EmbeddedWith("model-a"))

	pending, err = store.ListUnembedded(ctx, "model-a")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A vector from another model is stale: the item counts as unembedded
	// for the new model and is excluded from its candidate pool.
	pending, err = store.ListUnembedded(ctx, "model-b")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	embedded, err := store.ListEmbedded(ctx, "model-b")
	require.NoError(t, err)
	assert.Empty(t, embedded)

	embedded, err = store.ListEmbedded(ctx, "model-a")
	require.NoError(t, err)
	assert.Len(t, embedded, 1)
}

func TestStoreSetEmbeddingRejectsEmptyVector(t *testing.T) {
	store := newTestStore(t)
	item := mustCreate(t, store, &Item{Title: "x", Content: "y", ContentKind: KindText})
	assert.Error(t, store.SetEmbedding(context.Background(), item.ID, nil, "model-a"))
}

func TestStoreUpdateContentClearsEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := mustCreate(t, store, &Item{Title: "Manual", Content: "Version one.", ContentKind: KindURL})
	require.NoError(t, store.SetEmbedding(ctx, item.ID, []float32{1, 2}, "model-a"))

	now := time.Now().UTC()
	require.NoError(t, store.UpdateContent(ctx, item.ID, "Version two.", &now))

	loaded, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Version two.", loaded.Content)
	assert.Nil(t, loaded.Vector())
	assert.Nil(t, loaded.EmbeddingModel)
	require.NotNil(t, loaded.LastRefreshedAt)
}

func TestStoreSampleTitles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, title := range []string{"One", "Two", "Three", "Four", "Five", "Six", "Seven"} {
		mustCreate(t, store, &Item{Title: title, Content: "c", ContentKind: KindText})
	}

	titles, err := store.SampleTitles(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, titles, 5)
}

func TestTagRoundTrip(t *testing.T) {
	assert.Equal(t, "Alarm,door,power", joinTags([]string{" door ", "Alarm", "alarm", "", "power"}))
	assert.Equal(t, []string{"a", "b"}, splitTags(" a , b ,"))
	assert.Nil(t, splitTags("  "))

	item := Item{Tags: joinTags([]string{"b", "a"})}
	assert.Equal(t, []string{"a", "b"}, item.TagList())
}
