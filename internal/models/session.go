package models

import "time"

// SessionCategory classifies what kind of coaching conversation a session holds.
type SessionCategory string

const (
	CategorySprintPlanning SessionCategory = "SPRINT_PLANNING"
	CategoryUserStories    SessionCategory = "USER_STORIES"
	CategoryRetrospective  SessionCategory = "RETROSPECTIVE"
	CategoryDailyStandup   SessionCategory = "DAILY_STANDUP"
	CategoryGeneral        SessionCategory = "GENERAL"
)

// Valid reports whether c is one of the known categories.
func (c SessionCategory) Valid() bool {
	switch c {
	case CategorySprintPlanning, CategoryUserStories, CategoryRetrospective,
		CategoryDailyStandup, CategoryGeneral:
		return true
	}
	return false
}

// DefaultSessionTitle is assigned until the first exchange derives a real title.
const DefaultSessionTitle = "New Session"

// Session groups an ordered sequence of messages for one conversation.
// MessageCount is denormalized; every mutating transaction keeps it in step
// with the live rows in the messages table.
type Session struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id,omitempty"`
	FolderID      string          `json:"folder_id,omitempty"`
	Title         string          `json:"title"`
	Category      SessionCategory `json:"category"`
	IsPinned      bool            `json:"is_pinned"`
	IsArchived    bool            `json:"is_archived"`
	MessageCount  int             `json:"message_count"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	// LastMessage carries a one-message preview on directory listings.
	LastMessage *Message `json:"last_message,omitempty"`
}
