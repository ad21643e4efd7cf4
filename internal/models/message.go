package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Message is one turn in a conversation. Within a session, CreatedAt order
// defines conversation order.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	IsEdited  bool              `json:"is_edited"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
