package assistant

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
)

// RegisterUser creates a user with the supplied credentials and trial allowance.
func (s *Service) RegisterUser(ctx context.Context, email, name, password string, trialLimit int) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	if trialLimit <= 0 {
		return nil, errors.New("trial limit must be positive")
	}

	user := &models.User{
		ID:           newID(),
		Email:        email,
		Name:         name,
		PasswordHash: hashPassword(password),
		TrialLimit:   trialLimit,
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, messages_sent, trial_limit, is_unlimited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, 0, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.TrialLimit, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	user, err := s.userByQuery(ctx, `WHERE email = ?`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid credentials")
		}
		return nil, err
	}
	if user.PasswordHash != hashPassword(password) {
		return nil, errors.New("invalid credentials")
	}
	return user, nil
}

// GetUser fetches a user by id, including the trial counters. The trial status
// must be read fresh before every send: the client's cached copy is advisory only.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, errors.New("invalid user id")
	}
	return s.userByQuery(ctx, `WHERE id = ?`, id)
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetUnlimited flips the unlimited flag, the external upgrade path out of the trial.
func (s *Service) SetUnlimited(ctx context.Context, id string, unlimited bool) error {
	if id == "" {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_unlimited = ?, updated_at = ? WHERE id = ?`,
		unlimited, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set unlimited: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) userByQuery(ctx context.Context, where string, args ...any) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, messages_sent, trial_limit, is_unlimited, created_at, updated_at
		 FROM users `+where, args...,
	).Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.MessagesSent, &user.TrialLimit, &user.IsUnlimited,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
