package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardnova_back/conversations"
	"guardnova_back/database"
	"guardnova_back/knowledge"
)

func newTestBackends(t *testing.T) (*knowledge.Service, *conversations.Store) {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "assistant_test.db"),
	})
	require.NoError(t, err)

	retriever, err := knowledge.NewService(db, nil, nil, knowledge.Config{})
	require.NoError(t, err)

	threads, err := conversations.NewStore(db, nil)
	require.NoError(t, err)
	return retriever, threads
}

func chatTestServer(t *testing.T, reply string, capture *chatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if capture != nil {
			*capture = req
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}))
	}))
}

func TestNewChatClientWithoutKey(t *testing.T) {
	client, err := NewChatClient(ChatConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestAskNotConfigured(t *testing.T) {
	retriever, threads := newTestBackends(t)
	svc := NewService(nil, retriever, threads)
	assert.False(t, svc.Enabled())

	_, err := svc.Ask(context.Background(), "", "How do I pair the sensor?")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAskAnswersAndRecords(t *testing.T) {
	var captured chatCompletionRequest
	server := chatTestServer(t, "Hold the pairing button for five seconds.", &captured)
	defer server.Close()

	client, err := NewChatClient(ChatConfig{APIKey: "test-key", BaseURL: server.URL, ModelID: "test-chat"})
	require.NoError(t, err)

	retriever, threads := newTestBackends(t)
	_, err = retriever.AddItem(context.Background(), knowledge.AddItemInput{
		Kind:    knowledge.KindText,
		Payload: "Hold the pairing button on the sensor for five seconds until the light blinks.",
		Title:   "Sensor pairing",
	})
	require.NoError(t, err)

	svc := NewService(client, retriever, threads)
	answer, err := svc.Ask(context.Background(), "", "How do I pair the sensor?")
	require.NoError(t, err)

	assert.Equal(t, "Hold the pairing button for five seconds.", answer.Reply)
	assert.NotEmpty(t, answer.ConversationID)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "Sensor pairing", answer.Sources[0].Title)

	// The retrieved material travels to the model as a system turn.
	assert.Equal(t, "test-chat", captured.Model)
	var sawContext bool
	for _, msg := range captured.Messages {
		if msg.Role == "system" && strings.Contains(msg.Content, "Sensor pairing") {
			sawContext = true
		}
	}
	assert.True(t, sawContext)

	// Both turns land in the conversation log.
	messages, err := threads.Messages(context.Background(), answer.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, conversations.RoleUser, messages[0].Role)
	assert.Equal(t, "How do I pair the sensor?", messages[0].Content)
	assert.Equal(t, conversations.RoleAssistant, messages[1].Role)

	// A follow-up on the same thread carries the history.
	followUp, err := svc.Ask(context.Background(), answer.ConversationID, "And how do I unpair it?")
	require.NoError(t, err)
	assert.Equal(t, answer.ConversationID, followUp.ConversationID)

	var sawHistory bool
	for _, msg := range captured.Messages {
		if msg.Role == "user" && msg.Content == "How do I pair the sensor?" {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory)

	messages, err = threads.Messages(context.Background(), answer.ConversationID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestAskEmptyQuestion(t *testing.T) {
	server := chatTestServer(t, "reply", nil)
	defer server.Close()
	client, err := NewChatClient(ChatConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	retriever, threads := newTestBackends(t)
	svc := NewService(client, retriever, threads)

	_, err = svc.Ask(context.Background(), "", "   ")
	assert.Error(t, err)
}

func TestContextPrompt(t *testing.T) {
	assert.Empty(t, contextPrompt(nil))

	prompt := contextPrompt([]knowledge.RetrievedItem{
		{Title: "Door alarm", Snippet: "Mount near the frame."},
		{Title: "Sirens", Snippet: "Keep volume below 100dB indoors."},
	})
	assert.Contains(t, prompt, "[1] Door alarm")
	assert.Contains(t, prompt, "[2] Sirens")
	assert.Contains(t, prompt, "Mount near the frame.")
}

func TestThreadTitle(t *testing.T) {
	assert.Equal(t, "short question", threadTitle("short question"))

	long := strings.Repeat("q", 100)
	title := threadTitle(long)
	assert.Len(t, []rune(title), 61)
	assert.True(t, strings.HasSuffix(title, "…"))
}

func TestChatClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewChatClient(ChatConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = client.Chat(context.Background(), nil)
	assert.Error(t, err)

	_, err = client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "   "}})
	assert.Error(t, err)
}
