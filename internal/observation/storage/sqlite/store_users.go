package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chalkline/chalkline/internal/observation/domain/signature"
	"github.com/chalkline/chalkline/internal/observation/storage"
)

// PutUser creates or replaces a user read-model record.
func (s *Store) PutUser(ctx context.Context, user storage.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if user.Role == signature.RoleUnspecified {
		return fmt.Errorf("user role is required")
	}
	_, err := s.q().ExecContext(ctx, `
INSERT INTO users (id, display_name, role) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name, role = excluded.role
`, user.ID, user.DisplayName, string(user.Role))
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (storage.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserRecord{}, err
	}
	var (
		user    storage.UserRecord
		roleRaw string
	)
	row := s.q().QueryRowContext(ctx,
		"SELECT id, display_name, role FROM users WHERE id = ?", id)
	if err := row.Scan(&user.ID, &user.DisplayName, &roleRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UserRecord{}, storage.ErrNotFound
		}
		return storage.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	user.Role = signature.Role(roleRaw)
	return user, nil
}
