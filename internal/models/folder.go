package models

import "time"

// Folder lets a user group related sessions. Deleting a folder detaches its
// sessions rather than deleting them.
type Folder struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Color        string    `json:"color,omitempty"`
	SessionCount int       `json:"session_count"`
	CreatedAt    time.Time `json:"created_at"`
}
