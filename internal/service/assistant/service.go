package assistant

import (
	"database/sql"

	"github.com/google/uuid"
)

// Service is the persistence gateway for users, sessions, folders, and messages.
type Service struct {
	db *sql.DB
}

// NewService builds a new assistant service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func newID() string {
	return uuid.NewString()
}
