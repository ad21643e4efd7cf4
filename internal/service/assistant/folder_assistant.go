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

// CreateFolder inserts a session folder for the user.
func (s *Service) CreateFolder(ctx context.Context, userID, name, description, color string) (*models.Folder, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("folder name is required")
	}
	folder := &models.Folder{
		ID:          newID(),
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		Color:       strings.TrimSpace(color),
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_folders (id, user_id, name, description, color, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		folder.ID, folder.UserID, folder.Name, folder.Description, folder.Color, folder.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return folder, nil
}

// ListFolders returns the user's folders with unarchived session counts.
func (s *Service) ListFolders(ctx context.Context, userID string) ([]*models.Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.user_id, f.name, f.description, f.color, f.created_at,
		        (SELECT COUNT(*) FROM sessions se WHERE se.folder_id = f.id AND se.is_archived = 0)
		 FROM session_folders f WHERE f.user_id = ? ORDER BY f.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		var f models.Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.Description, &f.Color,
			&f.CreatedAt, &f.SessionCount); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

// UpdateFolder renames or recolors a folder.
func (s *Service) UpdateFolder(ctx context.Context, userID, folderID, name, description, color string) error {
	if folderID == "" {
		return errors.New("folder_id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("folder name is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_folders SET name = ?, description = ?, color = ? WHERE id = ? AND user_id = ?`,
		name, strings.TrimSpace(description), strings.TrimSpace(color), folderID, userID,
	)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteFolder removes a folder; the schema detaches its sessions (folder_id
// set to NULL) rather than deleting them.
func (s *Service) DeleteFolder(ctx context.Context, userID, folderID string) error {
	if folderID == "" {
		return errors.New("folder_id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_folders WHERE id = ? AND user_id = ?`, folderID, userID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
