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

// UpsertConnection creates or replaces the connection for (user, provider).
// The UNIQUE(user_id, provider) constraint guarantees at most one row per
// pair; reconnecting overwrites the previous credential and re-enables it.
func (s *Store) UpsertConnection(ctx context.Context, conn *hub.Connection) error {
	if strings.TrimSpace(conn.ID) == "" {
		return fmt.Errorf("connection id is required")
	}
	if strings.TrimSpace(conn.UserID) == "" {
		return fmt.Errorf("connection user id is required")
	}
	if strings.TrimSpace(conn.Provider) == "" {
		return fmt.Errorf("connection provider is required")
	}
	if strings.TrimSpace(conn.SecretEnc) == "" {
		return fmt.Errorf("connection secret ciphertext is required")
	}

	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO connections (
	id, user_id, provider, auth_type, secret_enc, refresh_secret_enc,
	expires_at, scope, meta_json, is_enabled, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, provider) DO UPDATE SET
	auth_type = excluded.auth_type,
	secret_enc = excluded.secret_enc,
	refresh_secret_enc = excluded.refresh_secret_enc,
	expires_at = excluded.expires_at,
	scope = excluded.scope,
	meta_json = excluded.meta_json,
	is_enabled = 1,
	updated_at = excluded.updated_at
`,
		conn.ID,
		conn.UserID,
		conn.Provider,
		string(conn.AuthType),
		conn.SecretEnc,
		nullString(conn.RefreshSecretEnc),
		nullMillis(conn.ExpiresAt),
		nullString(conn.Scope),
		nullString(conn.MetaJSON),
		boolToInt(conn.IsEnabled),
		toMillis(conn.CreatedAt),
		toMillis(conn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

// GetConnection fetches the connection for (user, provider) regardless of
// its enabled flag.
func (s *Store) GetConnection(ctx context.Context, userID, provider string) (*hub.Connection, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, provider, auth_type, secret_enc, refresh_secret_enc,
       expires_at, scope, meta_json, is_enabled, created_at, updated_at
FROM connections WHERE user_id = ? AND provider = ?
`, userID, provider)
	return scanConnection(row)
}

// ListConnections returns all connections for a user.
func (s *Store) ListConnections(ctx context.Context, userID string) ([]*hub.Connection, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, provider, auth_type, secret_enc, refresh_secret_enc,
       expires_at, scope, meta_json, is_enabled, created_at, updated_at
FROM connections WHERE user_id = ? ORDER BY provider
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*hub.Connection
	for rows.Next() {
		conn, err := scanConnectionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// UpdateConnectionSecrets replaces the credential material after a refresh.
func (s *Store) UpdateConnectionSecrets(ctx context.Context, id, secretEnc, refreshSecretEnc string, expiresAt time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE connections
SET secret_enc = ?, refresh_secret_enc = ?, expires_at = ?, updated_at = ?
WHERE id = ?
`, secretEnc, nullString(refreshSecretEnc), nullMillis(expiresAt), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update connection secrets: %w", err)
	}
	return requireRowAffected(res)
}

// SetConnectionEnabled soft-disables or re-enables a connection. The
// ciphertext is retained either way.
func (s *Store) SetConnectionEnabled(ctx context.Context, userID, provider string, enabled bool) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE connections SET is_enabled = ?, updated_at = ? WHERE user_id = ? AND provider = ?
`, boolToInt(enabled), toMillis(time.Now()), userID, provider)
	if err != nil {
		return fmt.Errorf("set connection enabled: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteConnection hard-removes a connection and its secrets.
func (s *Store) DeleteConnection(ctx context.Context, userID, provider string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM connections WHERE user_id = ? AND provider = ?
`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return requireRowAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row *sql.Row) (*hub.Connection, error) {
	conn, err := scanConnectionFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

func scanConnectionRows(rows *sql.Rows) (*hub.Connection, error) {
	return scanConnectionFrom(rows)
}

func scanConnectionFrom(sc rowScanner) (*hub.Connection, error) {
	var (
		conn                    hub.Connection
		authType                string
		refreshEnc, scope, meta sql.NullString
		expiresAt               sql.NullInt64
		isEnabled               int
		createdAt, updatedAt    int64
	)
	err := sc.Scan(
		&conn.ID, &conn.UserID, &conn.Provider, &authType, &conn.SecretEnc,
		&refreshEnc, &expiresAt, &scope, &meta, &isEnabled, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.AuthType = hub.AuthType(authType)
	conn.RefreshSecretEnc = refreshEnc.String
	conn.ExpiresAt = millisOrZero(expiresAt)
	conn.Scope = scope.String
	conn.MetaJSON = meta.String
	conn.IsEnabled = isEnabled != 0
	conn.CreatedAt = fromMillis(createdAt)
	conn.UpdatedAt = fromMillis(updatedAt)
	return &conn, nil
}
