package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one a Message may carry.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Message struct {
	ID        int64     `json:"id" db:"id"`
	ConvID    int64     `json:"conversation" db:"conversation_id"`
	Role      string    `json:"role" db:"role"` // user, assistant, or system
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ConversationDetail is a conversation together with its messages, oldest first.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}

// MaxTitleLength bounds Conversation.Title.
const MaxTitleLength = 200

// DefaultTitle derives a conversation title from the first user turn.
func DefaultTitle(text string) string {
	r := []rune(text)
	if len(r) > 40 {
		r = r[:40]
	}
	return string(r)
}
