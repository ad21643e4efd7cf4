package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
)

// MessagePair is the result of one accepted exchange.
type MessagePair struct {
	UserMessage      *models.Message
	AssistantMessage *models.Message
}

// CreateMessagePair stores a user message and its assistant reply in one
// transaction, bumping the session's message_count by two, stamping
// last_message_at, and incrementing the owner's messages_sent counter. The
// pair lands atomically or not at all; a crash between statements can never
// desynchronize the denormalized counters from the true row counts.
func (s *Service) CreateMessagePair(ctx context.Context, sessionID, userContent, assistantContent string, metadata map[string]string) (*MessagePair, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	userContent = strings.TrimSpace(userContent)
	if userContent == "" {
		return nil, errors.New("content cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var ownerID sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE id = ?`, sessionID,
	).Scan(&ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("verify session: %w", err)
	}

	now := time.Now().UTC()
	userMsg := &models.Message{
		ID:        newID(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   userContent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// The assistant reply is stamped a moment later so created_at ordering
	// matches conversation order even at second granularity.
	replyAt := now.Add(time.Millisecond)
	assistantMsg := &models.Message{
		ID:        newID(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   assistantContent,
		Metadata:  metadata,
		CreatedAt: replyAt,
		UpdatedAt: replyAt,
	}

	if err := insertMessage(ctx, tx, userMsg); err != nil {
		return nil, err
	}
	if err := insertMessage(ctx, tx, assistantMsg); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 2, last_message_at = ?, updated_at = ? WHERE id = ?`,
		replyAt, replyAt, sessionID,
	); err != nil {
		return nil, fmt.Errorf("bump session counters: %w", err)
	}
	if ownerID.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET messages_sent = messages_sent + 1, updated_at = ? WHERE id = ?`,
			replyAt, ownerID.String,
		); err != nil {
			return nil, fmt.Errorf("bump messages_sent: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message pair: %w", err)
	}
	return &MessagePair{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// GetSessionMessages returns a session's messages in conversation order.
func (s *Service) GetSessionMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateMessage replaces a message's content and marks it edited.
func (s *Service) UpdateMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, is_edited = 1, updated_at = ? WHERE id = ?`,
		content, time.Now().UTC(), messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return s.getMessage(ctx, messageID)
}

// DeleteMessage removes one message and decrements the owning session's
// message_count in the same transaction. It returns the session the
// message belonged to so callers can drop cached transcripts.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) (string, error) {
	if messageID == "" {
		return "", errors.New("message_id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var sessionID string
	if err := tx.QueryRowContext(ctx,
		`SELECT session_id FROM messages WHERE id = ?`, messageID,
	).Scan(&sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("find message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return "", fmt.Errorf("delete message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count - 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), sessionID,
	); err != nil {
		return "", fmt.Errorf("decrement message_count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit delete message: %w", err)
	}
	return sessionID, nil
}

const messageSelect = `SELECT id, session_id, role, content, is_edited, metadata, created_at, updated_at FROM messages`

func (s *Service) getMessage(ctx context.Context, messageID string) (*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	return scanMessage(rows)
}

func (s *Service) latestMessage(ctx context.Context, sessionID string) (*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		messageSelect+` WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMessage(rows)
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *models.Message) error {
	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, is_edited, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.IsEdited, meta, m.CreatedAt, m.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	var (
		m    models.Message
		meta sql.NullString
	)
	if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.IsEdited,
		&meta, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &m, nil
}

func encodeMetadata(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
