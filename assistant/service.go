package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"guardnova_back/conversations"
	"guardnova_back/knowledge"
)

var ErrNotConfigured = errors.New("assistant: chat backend is not configured")

const (
	historyTurnLimit   = 12
	retrievalItemLimit = 5
)

const systemPrompt = "You are GuardNova, a careful domestic-safety assistant. " +
	"Answer using the reference material when it is relevant, and say plainly when it does not cover the question. " +
	"Keep answers practical and concise."

// Service answers questions by retrieving knowledge context, delegating to
// the chat model, and recording both turns in the conversation log.
type Service struct {
	client    *ChatClient
	retriever *knowledge.Service
	threads   *conversations.Store
}

func NewService(client *ChatClient, retriever *knowledge.Service, threads *conversations.Store) *Service {
	return &Service{client: client, retriever: retriever, threads: threads}
}

// Enabled reports whether a chat backend was configured.
func (s *Service) Enabled() bool {
	return s != nil && s.client != nil
}

// Answer is the assistant reply plus the knowledge items it drew on.
type Answer struct {
	ConversationID string                    `json:"conversation_id"`
	Reply          string                    `json:"reply"`
	Sources        []knowledge.RetrievedItem `json:"sources"`
	Suggestions    []string                  `json:"suggestions,omitempty"`
}

// Ask runs the full question cycle. An empty conversation id opens a new
// thread titled after the question. Conversation logging is best-effort:
// a storage hiccup never loses an already-computed answer.
func (s *Service) Ask(ctx context.Context, conversationID, question string) (*Answer, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("assistant: question is empty")
	}

	conversationID, history := s.prepareThread(ctx, conversationID, question)
	retrieval := s.retriever.Retrieve(ctx, question, retrievalItemLimit)

	messages := make([]ChatMessage, 0, len(history)+3)
	messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	if prompt := contextPrompt(retrieval.Items); prompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: prompt})
	}
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: "user", Content: question})

	reply, err := s.client.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	s.record(ctx, conversationID, question, reply)

	return &Answer{
		ConversationID: conversationID,
		Reply:          reply,
		Sources:        retrieval.Items,
		Suggestions:    retrieval.Suggestions,
	}, nil
}

// prepareThread resolves the conversation and loads recent history. Any
// storage failure degrades to a fresh, unlogged exchange.
func (s *Service) prepareThread(ctx context.Context, conversationID, question string) (string, []ChatMessage) {
	if s.threads == nil {
		return "", nil
	}

	if conversationID == "" {
		conv, err := s.threads.Create(ctx, threadTitle(question))
		if err != nil {
			log.Printf("assistant: create conversation failed: %v", err)
			return "", nil
		}
		return conv.ID, nil
	}

	stored, err := s.threads.Messages(ctx, conversationID)
	if err != nil {
		log.Printf("assistant: load conversation %s failed: %v", conversationID, err)
		return "", nil
	}
	if len(stored) > historyTurnLimit {
		stored = stored[len(stored)-historyTurnLimit:]
	}
	history := make([]ChatMessage, 0, len(stored))
	for _, msg := range stored {
		history = append(history, ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return conversationID, history
}

func (s *Service) record(ctx context.Context, conversationID, question, reply string) {
	if s.threads == nil || conversationID == "" {
		return
	}
	if _, err := s.threads.AppendMessage(ctx, conversationID, conversations.RoleUser, question); err != nil {
		log.Printf("assistant: record user turn failed: %v", err)
		return
	}
	if _, err := s.threads.AppendMessage(ctx, conversationID, conversations.RoleAssistant, reply); err != nil {
		log.Printf("assistant: record assistant turn failed: %v", err)
	}
}

// contextPrompt renders the retrieved items as a reference block for the
// model. Returns "" when nothing was retrieved.
func contextPrompt(items []knowledge.RetrievedItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Reference material from the knowledge base:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, item.Title, item.Snippet)
	}
	return b.String()
}

func threadTitle(question string) string {
	runes := []rune(question)
	if len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return question
}
