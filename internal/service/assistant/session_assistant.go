package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
)

// CreateSession inserts a new session. UserID may be empty for anonymous sessions.
func (s *Service) CreateSession(ctx context.Context, userID, title string, category models.SessionCategory) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultSessionTitle
	}
	if category == "" {
		category = models.CategoryGeneral
	}
	if !category.Valid() {
		return nil, fmt.Errorf("invalid category: %s", category)
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, category, is_pinned, is_archived, message_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		session.ID, nullString(userID), session.Title, session.Category, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the user's unarchived sessions, pinned first, then by
// last activity, each decorated with its last-message preview.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		sessionSelect+` WHERE user_id = ? AND is_archived = 0 ORDER BY is_pinned DESC, updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachPreviews(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SearchSessions matches the query, case-insensitively, against session titles
// and message content.
func (s *Service) SearchSessions(ctx context.Context, userID, query string) ([]*models.Session, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx,
		sessionSelect+` WHERE user_id = ? AND is_archived = 0
		 AND (LOWER(title) LIKE ?
		      OR EXISTS (SELECT 1 FROM messages m WHERE m.session_id = sessions.id AND LOWER(m.content) LIKE ?))
		 ORDER BY updated_at DESC`,
		userID, pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachPreviews(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession fetches one session row.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, errors.New("invalid session id")
	}
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetSessionWithMessages returns one session and its ordered messages.
func (s *Service) GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []*models.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return session, nil, err
	}
	return session, messages, nil
}

// SessionUpdate carries optional field changes; nil fields are left untouched.
type SessionUpdate struct {
	Title      *string
	Category   *models.SessionCategory
	IsPinned   *bool
	IsArchived *bool
	// FolderID moves the session; an empty string detaches it from its folder.
	FolderID *string
}

// UpdateSession applies the non-nil fields of upd and returns the fresh row.
func (s *Service) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) (*models.Session, error) {
	if sessionID == "" {
		return nil, errors.New("invalid session id")
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, errors.New("title cannot be empty")
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if upd.Category != nil {
		if !upd.Category.Valid() {
			return nil, fmt.Errorf("invalid category: %s", *upd.Category)
		}
		sets = append(sets, "category = ?")
		args = append(args, *upd.Category)
	}
	if upd.IsPinned != nil {
		sets = append(sets, "is_pinned = ?")
		args = append(args, *upd.IsPinned)
	}
	if upd.IsArchived != nil {
		sets = append(sets, "is_archived = ?")
		args = append(args, *upd.IsArchived)
	}
	if upd.FolderID != nil {
		sets = append(sets, "folder_id = ?")
		args = append(args, nullString(*upd.FolderID))
	}

	args = append(args, sessionID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return s.GetSession(ctx, sessionID)
}

// DeleteSession hard-deletes a session; the schema cascades to its messages.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return errors.New("invalid session id")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const titleMaxLen = 50

// DeriveSessionTitle sets the session title from its first user message,
// truncated to fifty characters. Returns the derived title, or "" when the
// session has no user message yet.
func (s *Service) DeriveSessionTitle(ctx context.Context, sessionID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM messages WHERE session_id = ? AND role = ? ORDER BY created_at ASC LIMIT 1`,
		sessionID, models.RoleUser,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("first user message: %w", err)
	}

	title := strings.TrimSpace(content)
	if runes := []rune(title); len(runes) > titleMaxLen {
		title = strings.TrimSpace(string(runes[:titleMaxLen])) + "..."
	}
	if title == "" {
		return "", nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), sessionID,
	); err != nil {
		return "", fmt.Errorf("set derived title: %w", err)
	}
	return title, nil
}

// SessionStats summarizes a session's conversation.
type SessionStats struct {
	TotalMessages     int        `json:"total_messages"`
	UserMessages      int        `json:"user_messages"`
	AssistantMessages int        `json:"assistant_messages"`
	TotalWords        int        `json:"total_words"`
	CreatedAt         time.Time  `json:"created_at"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
}

// GetSessionStats computes message and word counts for one session.
func (s *Service) GetSessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	session, messages, err := s.GetSessionWithMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stats := &SessionStats{
		TotalMessages: len(messages),
		CreatedAt:     session.CreatedAt,
		LastMessageAt: session.LastMessageAt,
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			stats.UserMessages++
		case models.RoleAssistant:
			stats.AssistantMessages++
		}
		stats.TotalWords += len(strings.Fields(m.Content))
	}
	return stats, nil
}

const sessionSelect = `SELECT id, user_id, folder_id, title, category, is_pinned, is_archived,
	message_count, last_message_at, created_at, updated_at FROM sessions`

func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		se       models.Session
		userID   sql.NullString
		folderID sql.NullString
		lastAt   sql.NullTime
	)
	if err := row.Scan(&se.ID, &userID, &folderID, &se.Title, &se.Category,
		&se.IsPinned, &se.IsArchived, &se.MessageCount, &lastAt,
		&se.CreatedAt, &se.UpdatedAt); err != nil {
		return nil, err
	}
	se.UserID = userID.String
	se.FolderID = folderID.String
	if lastAt.Valid {
		t := lastAt.Time
		se.LastMessageAt = &t
	}
	return &se, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	defer rows.Close()
	var sessions []*models.Session
	for rows.Next() {
		var (
			se       models.Session
			userID   sql.NullString
			folderID sql.NullString
			lastAt   sql.NullTime
		)
		if err := rows.Scan(&se.ID, &userID, &folderID, &se.Title, &se.Category,
			&se.IsPinned, &se.IsArchived, &se.MessageCount, &lastAt,
			&se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		se.UserID = userID.String
		se.FolderID = folderID.String
		if lastAt.Valid {
			t := lastAt.Time
			se.LastMessageAt = &t
		}
		sessions = append(sessions, &se)
	}
	return sessions, rows.Err()
}

func (s *Service) attachPreviews(ctx context.Context, sessions []*models.Session) error {
	for _, se := range sessions {
		if se.MessageCount == 0 {
			continue
		}
		msg, err := s.latestMessage(ctx, se.ID)
		if err != nil {
			return err
		}
		se.LastMessage = msg
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
