package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"guardnova_back/mirror"
)

const (
	mirrorConversationsTable = "conversations"
	mirrorMessagesTable      = "messages"
)

var (
	ErrNotFound     = errors.New("conversations: conversation not found")
	ErrInvalidRole  = errors.New("conversations: role must be user or assistant")
	ErrEmptyMessage = errors.New("conversations: message content is empty")
)

// Store persists chat threads. Like the knowledge store, the local database
// is the system of record and the remote mirror is fed asynchronously.
type Store struct {
	db     *gorm.DB
	mirror *mirror.Client
}

func NewStore(db *gorm.DB, mirrorClient *mirror.Client) (*Store, error) {
	if db == nil {
		return nil, errors.New("conversations: database connection is required")
	}
	store := &Store{db: db, mirror: mirrorClient}
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, fmt.Errorf("conversations: migrate models: %w", err)
	}
	return store, nil
}

// Create opens a new thread. An empty title gets a placeholder so the list
// view never shows blank rows.
func (s *Store) Create(ctx context.Context, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}

	conv := &Conversation{
		ID:    uuid.NewString(),
		Title: title,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	s.mirror.UpsertAsync(mirrorConversationsTable, conversationRow(*conv))
	return conv, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// List returns all threads, most recently active first, with their message
// counts.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Select("conversations.id, conversations.title, conversations.created_at, conversations.updated_at, COUNT(messages.id) AS message_count").
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Group("conversations.id, conversations.title, conversations.created_at, conversations.updated_at").
		Order("conversations.updated_at DESC").
		Scan(&summaries).Error
	return summaries, err
}

// Messages returns the full transcript in chronological order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// AppendMessage adds one turn and bumps the conversation's updated_at so it
// floats to the top of the list.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, ErrInvalidRole
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		return nil, err
	}

	s.mirror.UpsertAsync(mirrorMessagesTable, messageRow(*msg))
	if conv, err := s.Get(ctx, conversationID); err == nil {
		s.mirror.UpsertAsync(mirrorConversationsTable, conversationRow(*conv))
	}
	return msg, nil
}

// Rename updates the thread title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("conversations: title is empty")
	}
	result := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"title":      title,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	if conv, err := s.Get(ctx, id); err == nil {
		s.mirror.UpsertAsync(mirrorConversationsTable, conversationRow(*conv))
	}
	return nil
}

// Delete removes a thread and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	var messageIDs []string
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ?", id).
		Pluck("id", &messageIDs).Error; err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Conversation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, msgID := range messageIDs {
		s.mirror.DeleteAsync(mirrorMessagesTable, msgID)
	}
	s.mirror.DeleteAsync(mirrorConversationsTable, id)
	return nil
}

// ExportText renders the transcript as plain text for download.
func (s *Store) ExportText(ctx context.Context, id string) (string, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	messages, err := s.Messages(ctx, id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation: %s\n", conv.Title)
	fmt.Fprintf(&b, "Created: %s\n", conv.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	for _, msg := range messages {
		label := "User"
		if msg.Role == RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", label, msg.Content)
	}
	return b.String(), nil
}

func conversationRow(conv Conversation) map[string]interface{} {
	return map[string]interface{}{
		"id":         conv.ID,
		"title":      conv.Title,
		"created_at": conv.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": conv.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func messageRow(msg Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            msg.Role,
		"content":         msg.Content,
		"created_at":      msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}
