package conversations

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
		DSN:    filepath.Join(t.TempDir(), "conversations_test.db"),
	})
	require.NoError(t, err)

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestCreateConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "  Alarm setup  ")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "Alarm setup", conv.Title)

	untitled, err := store.Create(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, "New conversation", untitled.Title)
}

func TestAppendMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "Thread")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, conv.ID, RoleUser, "How do I pair the sensor?")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, RoleAssistant, "Hold the button for five seconds.")
	require.NoError(t, err)

	messages, err := store.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, RoleAssistant, messages[1].Role)

	_, err = store.AppendMessage(ctx, conv.ID, "narrator", "nope")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = store.AppendMessage(ctx, conv.ID, RoleUser, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = store.AppendMessage(ctx, "missing", RoleUser, "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "First")
	require.NoError(t, err)
	second, err := store.Create(ctx, "Second")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = store.AppendMessage(ctx, first.ID, RoleUser, "bump")
	require.NoError(t, err)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first.ID, summaries[0].ID)
	assert.Equal(t, int64(1), summaries[0].MessageCount)
	assert.Equal(t, second.ID, summaries[1].ID)
	assert.Equal(t, int64(0), summaries[1].MessageCount)
}

func TestRename(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "Old title")
	require.NoError(t, err)

	require.NoError(t, store.Rename(ctx, conv.ID, "New title"))
	loaded, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "New title", loaded.Title)

	assert.Error(t, store.Rename(ctx, conv.ID, "  "))
	assert.ErrorIs(t, store.Rename(ctx, "missing", "Title"), ErrNotFound)
}

func TestDeleteRemovesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "Doomed")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, RoleUser, "hello")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, conv.ID))

	_, err = store.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Messages(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, conv.ID), ErrNotFound)
}

func TestExportText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "Pairing help")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, RoleUser, "How do I pair?")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, RoleAssistant, "Hold the button.")
	require.NoError(t, err)

	text, err := store.ExportText(ctx, conv.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "Conversation: Pairing help")
	assert.Contains(t, text, "User:\nHow do I pair?")
	assert.Contains(t, text, "Assistant:\nHold the button.")
}
