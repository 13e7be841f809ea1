package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardnova_back/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "knowledge_test.db"),
	})
	require.NoError(t, err)

	store := NewStore(db, nil)
	require.NoError(t, store.AutoMigrate())
	return store
}

func mustCreate(t *testing.T, store *Store, item *Item) *Item {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), item))
	return item
}

func TestTokenizeQuery(t *testing.T) {
	t.Run("lowercases and strips punctuation", func(t *testing.T) {
		assert.Equal(t, []string{"door", "alarm"}, tokenizeQuery("Door, ALARM!"))
	})

	t.Run("drops stop words", func(t *testing.T) {
		assert.Equal(t, []string{"reset", "sensor"}, tokenizeQuery("how to reset the sensor"))
	})

	t.Run("pure stop words fall back to raw query", func(t *testing.T) {
		assert.Equal(t, []string{"the and of"}, tokenizeQuery("the and of"))
	})

	t.Run("empty query yields nothing", func(t *testing.T) {
		assert.Empty(t, tokenizeQuery("   "))
	})
}

func TestSearchLexical(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, &Item{Title: "Door alarm shielding", Content: "Install copper mesh around the unit.", ContentKind: KindText})
	mustCreate(t, store, &Item{Title: "Window sensors", Content: "The door alarm pairs with window sensors.", ContentKind: KindText})
	mustCreate(t, store, &Item{Title: "Camera placement", Content: "Mount cameras above entrances.", ContentKind: KindText, Tags: "alarm,outdoor"})
	mustCreate(t, store, &Item{Title: "Warranty policy", Content: "Coverage lasts two years.", ContentKind: KindText})

	t.Run("title containing the full query ranks first", func(t *testing.T) {
		results, err := store.SearchLexical(ctx, "door alarm", 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "Door alarm shielding", results[0].Title)

		titles := make([]string, 0, len(results))
		for _, item := range results {
			titles = append(titles, item.Title)
		}
		assert.Contains(t, titles, "Window sensors")
	})

	t.Run("tags are searchable", func(t *testing.T) {
		results, err := store.SearchLexical(ctx, "outdoor", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Camera placement", results[0].Title)
	})

	t.Run("matching is case insensitive", func(t *testing.T) {
		results, err := store.SearchLexical(ctx, "WARRANTY", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Warranty policy", results[0].Title)
	})

	t.Run("limit truncates", func(t *testing.T) {
		results, err := store.SearchLexical(ctx, "alarm", 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("no matches yields empty result", func(t *testing.T) {
		results, err := store.SearchLexical(ctx, "quantum chromodynamics", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchLexicalRecencyOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := mustCreate(t, store, &Item{Title: "Battery guide v1", Content: "Replace batteries yearly.", ContentKind: KindText})
	time.Sleep(10 * time.Millisecond)
	newer := mustCreate(t, store, &Item{Title: "Battery guide v2", Content: "Replace batteries every six months.", ContentKind: KindText})

	results, err := store.SearchLexical(ctx, "batteries", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].ID)
	assert.Equal(t, older.ID, results[1].ID)
}
