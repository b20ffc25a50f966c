package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// CreateRefreshToken inserts the root token of a new family (or an
// explicit member, for tests).
func (s *Store) CreateRefreshToken(ctx context.Context, token *hub.RefreshToken) error {
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("refresh token id is required")
	}
	if strings.TrimSpace(token.FamilyID) == "" {
		return fmt.Errorf("refresh token family id is required")
	}
	if strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("refresh token hash is required")
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO refresh_tokens (id, family_id, user_id, token_hash, expires_at, revoked_at, rotated_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		token.ID,
		token.FamilyID,
		token.UserID,
		token.TokenHash,
		toMillis(token.ExpiresAt),
		nullMillis(token.RevokedAt),
		nullMillis(token.RotatedAt),
		toMillis(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// GetRefreshTokenByHash fetches a refresh token row by its hash.
func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*hub.RefreshToken, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, family_id, user_id, token_hash, expires_at, revoked_at, rotated_at, created_at
FROM refresh_tokens WHERE token_hash = ?
`, tokenHash)
	return scanRefreshToken(row)
}

// RotateRefreshToken redeems the token identified by tokenHash and inserts
// its successor in one transaction.
//
// Outcomes:
//   - the hash is unknown or the token expired: ErrNotFound
//   - the token was already rotated or revoked: the whole family is
//     revoked and ErrTokenReused is returned (theft signal)
//   - the token is current: it is marked rotated, the successor inserted,
//     and the redeemed row returned
func (s *Store) RotateRefreshToken(ctx context.Context, tokenHash string, next *hub.RefreshToken) (*hub.RefreshToken, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, family_id, user_id, token_hash, expires_at, revoked_at, rotated_at, created_at
FROM refresh_tokens WHERE token_hash = ?
`, tokenHash)
	current, err := scanRefreshToken(row)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	if !current.RevokedAt.IsZero() || !current.RotatedAt.IsZero() {
		// Reuse of a superseded token: revoke every sibling.
		if _, err := tx.ExecContext(ctx, `
UPDATE refresh_tokens SET revoked_at = ? WHERE family_id = ? AND revoked_at IS NULL
`, toMillis(now), current.FamilyID); err != nil {
			return nil, fmt.Errorf("revoke token family: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit family revocation: %w", err)
		}
		logging.Warn("Store", "refresh token reuse detected, family %s revoked", current.FamilyID)
		return current, ErrTokenReused
	}

	if now.After(current.ExpiresAt) {
		return nil, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE refresh_tokens SET rotated_at = ? WHERE id = ?
`, toMillis(now), current.ID); err != nil {
		return nil, fmt.Errorf("mark token rotated: %w", err)
	}

	next.FamilyID = current.FamilyID
	next.UserID = current.UserID
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO refresh_tokens (id, family_id, user_id, token_hash, expires_at, revoked_at, rotated_at, created_at)
VALUES (?, ?, ?, ?, ?, NULL, NULL, ?)
`,
		next.ID,
		next.FamilyID,
		next.UserID,
		next.TokenHash,
		toMillis(next.ExpiresAt),
		toMillis(next.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("insert rotated token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return current, nil
}

// RevokeRefreshTokenFamily revokes every active token in a family.
func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE refresh_tokens SET revoked_at = ? WHERE family_id = ? AND revoked_at IS NULL
`, toMillis(time.Now()), familyID)
	if err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every active refresh token of a user,
// e.g. after a password change.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL
`, toMillis(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// PurgeRefreshTokens deletes superseded rows older than the retention
// window. Rotated rows are kept until then for reuse detection.
func (s *Store) PurgeRefreshTokens(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM refresh_tokens
WHERE (rotated_at IS NOT NULL AND rotated_at < ?)
   OR (revoked_at IS NOT NULL AND revoked_at < ?)
   OR expires_at < ?
`, toMillis(cutoff), toMillis(cutoff), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanRefreshToken(row *sql.Row) (*hub.RefreshToken, error) {
	var (
		t                    hub.RefreshToken
		expiresAt, createdAt int64
		revokedAt, rotatedAt sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.FamilyID, &t.UserID, &t.TokenHash, &expiresAt, &revokedAt, &rotatedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	t.ExpiresAt = fromMillis(expiresAt)
	t.RevokedAt = millisOrZero(revokedAt)
	t.RotatedAt = millisOrZero(rotatedAt)
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}
