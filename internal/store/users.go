package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcphub/internal/hub"
)

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, user *hub.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, role, status, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		user.ID,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		string(user.Status),
		boolToInt(user.IsActive),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*hub.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, password_hash, role, status, is_active, created_at, updated_at
FROM users WHERE id = ?
`, id)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*hub.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, password_hash, role, status, is_active, created_at, updated_at
FROM users WHERE email = ?
`, email)
	return scanUser(row)
}

// UpdateUserPassword sets a new password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?
`, passwordHash, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteUser removes a user. Connections, tokens and memory items cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRowAffected(res)
}

// CountUsers returns the total number of users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(1) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanUser(row *sql.Row) (*hub.User, error) {
	var (
		u                    hub.User
		role, status         string
		isActive             int
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &status, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Role = hub.Role(role)
	u.Status = hub.UserStatus(status)
	u.IsActive = isActive != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
