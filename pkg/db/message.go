// Database models for chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message roles. Exactly two: messages are either spoken by the user or
// by the assistant. Never mutated after creation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents one stored turn of a conversation.
// Content may be empty when the turn carried only attachments; Files
// holds the attachment references (upload URLs or local paths) in the
// order they were submitted.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"index;size:36;not null"`

	Role    string      `json:"role" gorm:"size:20;not null"` // user, assistant
	Content string      `json:"content" gorm:"type:text"`
	Files   StringArray `json:"files,omitempty" gorm:"type:json"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ========== Helper Types ==========

// StringArray is a slice of strings stored as JSON
type StringArray []string

// Value implements driver.Valuer for StringArray
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for StringArray
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, s)
}
