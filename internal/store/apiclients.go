package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcphub/internal/hub"
)

// CreateAPIClient inserts a registered OAuth client.
func (s *Store) CreateAPIClient(ctx context.Context, client *hub.APIClient) error {
	if strings.TrimSpace(client.ID) == "" {
		return fmt.Errorf("api client id is required")
	}
	if strings.TrimSpace(client.ClientID) == "" {
		return fmt.Errorf("client_id is required")
	}
	if strings.TrimSpace(client.ClientSecretHash) == "" {
		return fmt.Errorf("client secret hash is required")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}

	redirectURIs, err := encodeRedirectURIs(client.RedirectURIs)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO api_clients (
	id, user_id, client_id, client_secret_hash, client_secret_enc,
	name, redirect_uris, is_active, created_at, last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		client.ID,
		nullString(client.UserID),
		client.ClientID,
		client.ClientSecretHash,
		nullString(client.ClientSecretEnc),
		nullString(client.Name),
		nullString(redirectURIs),
		boolToInt(client.IsActive),
		toMillis(client.CreatedAt),
		nullMillis(client.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	return nil
}

// GetAPIClient fetches a client by its public client_id.
func (s *Store) GetAPIClient(ctx context.Context, clientID string) (*hub.APIClient, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, client_id, client_secret_hash, client_secret_enc,
       name, redirect_uris, is_active, created_at, last_used_at
FROM api_clients WHERE client_id = ?
`, clientID)
	return scanAPIClient(row)
}

// TouchAPIClient records a successful use of the client credentials.
func (s *Store) TouchAPIClient(ctx context.Context, clientID string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE api_clients SET last_used_at = ? WHERE client_id = ?
`, toMillis(time.Now()), clientID)
	if err != nil {
		return fmt.Errorf("touch api client: %w", err)
	}
	return nil
}

// DeactivateAPIClient revokes a client without deleting its history.
func (s *Store) DeactivateAPIClient(ctx context.Context, clientID string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE api_clients SET is_active = 0 WHERE client_id = ?
`, clientID)
	if err != nil {
		return fmt.Errorf("deactivate api client: %w", err)
	}
	return requireRowAffected(res)
}

func encodeRedirectURIs(uris []string) (string, error) {
	if len(uris) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(uris)
	if err != nil {
		return "", fmt.Errorf("marshal redirect uris: %w", err)
	}
	return string(encoded), nil
}

func decodeRedirectURIs(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var uris []string
	if err := json.Unmarshal([]byte(value), &uris); err != nil {
		return nil, fmt.Errorf("unmarshal redirect uris: %w", err)
	}
	return uris, nil
}

func scanAPIClient(row *sql.Row) (*hub.APIClient, error) {
	client, err := scanAPIClientFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return client, nil
}

func scanAPIClientFrom(sc rowScanner) (*hub.APIClient, error) {
	var (
		c                           hub.APIClient
		userID, secretEnc, name, ru sql.NullString
		isActive                    int
		createdAt                   int64
		lastUsedAt                  sql.NullInt64
	)
	err := sc.Scan(&c.ID, &userID, &c.ClientID, &c.ClientSecretHash, &secretEnc,
		&name, &ru, &isActive, &createdAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}

	c.UserID = userID.String
	c.ClientSecretEnc = secretEnc.String
	c.Name = name.String
	uris, err := decodeRedirectURIs(ru.String)
	if err != nil {
		return nil, err
	}
	c.RedirectURIs = uris
	c.IsActive = isActive != 0
	c.CreatedAt = fromMillis(createdAt)
	c.LastUsedAt = millisOrZero(lastUsedAt)
	return &c, nil
}
