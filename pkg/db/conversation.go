// Database models for chat conversations
package db

import "time"

// Conversation represents a chat thread owned by a user
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"index;size:64;not null"`
	Heading   string    `json:"heading" gorm:"size:200;default:'New Chat'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}
