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

// CreatePAT inserts a personal access token row. Only the hash is stored.
func (s *Store) CreatePAT(ctx context.Context, pat *hub.PersonalAccessToken) error {
	if strings.TrimSpace(pat.ID) == "" {
		return fmt.Errorf("pat id is required")
	}
	if strings.TrimSpace(pat.TokenHash) == "" {
		return fmt.Errorf("pat token hash is required")
	}
	if pat.ExpiresAt.IsZero() {
		return fmt.Errorf("pat expiry is required")
	}
	if pat.CreatedAt.IsZero() {
		pat.CreatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO personal_access_tokens (id, user_id, token_hash, name, expires_at, last_used_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		pat.ID,
		pat.UserID,
		pat.TokenHash,
		nullString(pat.Name),
		toMillis(pat.ExpiresAt),
		nullMillis(pat.LastUsedAt),
		toMillis(pat.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create pat: %w", err)
	}
	return nil
}

// GetPATByHash fetches a token row by hash regardless of expiry; the
// caller decides how to treat expired rows.
func (s *Store) GetPATByHash(ctx context.Context, tokenHash string) (*hub.PersonalAccessToken, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, token_hash, name, expires_at, last_used_at, created_at
FROM personal_access_tokens WHERE token_hash = ?
`, tokenHash)

	var (
		p                    hub.PersonalAccessToken
		name                 sql.NullString
		expiresAt, createdAt int64
		lastUsedAt           sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.TokenHash, &name, &expiresAt, &lastUsedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pat: %w", err)
	}

	p.Name = name.String
	p.ExpiresAt = fromMillis(expiresAt)
	p.LastUsedAt = millisOrZero(lastUsedAt)
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// TouchPAT updates last_used_at. Invoked asynchronously after a
// successful PAT authentication so it never blocks the request path.
func (s *Store) TouchPAT(ctx context.Context, id string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?
`, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("touch pat: %w", err)
	}
	return nil
}

// DeletePAT removes a token row.
func (s *Store) DeletePAT(ctx context.Context, userID, id string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM personal_access_tokens WHERE id = ? AND user_id = ?
`, id, userID)
	if err != nil {
		return fmt.Errorf("delete pat: %w", err)
	}
	return requireRowAffected(res)
}
