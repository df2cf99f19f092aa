// Chat history store backed by the local sqlite document store
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/memochat/memochat/pkg/db"
	"github.com/memochat/memochat/pkg/utils"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
)

// HistoryStore persists conversations and their turns. Turns are
// append-only: once written a message is never edited.
type HistoryStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewHistoryStore creates a history store on an opened database.
func NewHistoryStore(gormDB *gorm.DB) *HistoryStore {
	return &HistoryStore{
		db:     gormDB,
		logger: utils.GetLogger(),
	}
}

// ========== Conversation Management ==========

// CreateConversation creates a new conversation for a user.
func (s *HistoryStore) CreateConversation(userID, heading string) (*db.Conversation, error) {
	if heading == "" {
		heading = "New Chat"
	}

	conv := &db.Conversation{
		ID:      uuid.New().String(),
		UserID:  userID,
		Heading: heading,
	}

	if err := s.db.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *HistoryStore) GetConversation(id string) (*db.Conversation, error) {
	var conv db.Conversation
	if err := s.db.First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListConversations lists a user's conversations, newest first.
func (s *HistoryStore) ListConversations(userID string) ([]db.Conversation, error) {
	var conversations []db.Conversation
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

// RenameConversation updates the heading of a conversation.
func (s *HistoryStore) RenameConversation(id, heading string) error {
	res := s.db.Model(&db.Conversation{}).Where("id = ?", id).
		Updates(map[string]interface{}{"heading": heading, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ========== Message Management ==========

// Messages retrieves all turns for a conversation in creation order.
func (s *HistoryStore) Messages(conversationID string) ([]db.Message, error) {
	var messages []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendMessage appends one immutable turn to a conversation and bumps
// the conversation's updated_at timestamp.
func (s *HistoryStore) AppendMessage(msg *db.Message) (*db.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Role != db.RoleUser && msg.Role != db.RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", msg.Role)
	}

	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if err := s.db.Model(&db.Conversation{}).Where("id = ?", msg.ConversationID).
		Update("updated_at", time.Now()).Error; err != nil {
		s.logger.Warn("Failed to touch conversation timestamp", "conversationID", msg.ConversationID, "error", err)
	}

	return msg, nil
}
