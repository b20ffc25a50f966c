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

// UpsertMemoryItem writes a memory item, replacing any existing item with
// the same (user, key). The original row's id and created_at survive an
// overwrite.
func (s *Store) UpsertMemoryItem(ctx context.Context, item *hub.MemoryItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("memory item id is required")
	}
	if strings.TrimSpace(item.UserID) == "" {
		return fmt.Errorf("memory item user id is required")
	}
	if strings.TrimSpace(item.Key) == "" {
		return fmt.Errorf("memory item key is required")
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO memory_items (id, user_id, key, content, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, key) DO UPDATE SET
    content = excluded.content,
    updated_at = excluded.updated_at
`,
		item.ID, item.UserID, item.Key, item.Content,
		toMillis(item.CreatedAt), toMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert memory item: %w", err)
	}
	return nil
}

// GetMemoryItem fetches one item by key. Returns ErrNotFound when the
// user has no item under that key.
func (s *Store) GetMemoryItem(ctx context.Context, userID, key string) (*hub.MemoryItem, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, key, content, created_at, updated_at
FROM memory_items WHERE user_id = ? AND key = ?
`, userID, key)
	item, err := scanMemoryItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// SearchMemoryItems does a case-insensitive substring match over keys and
// content, newest first.
func (s *Store) SearchMemoryItems(ctx context.Context, userID, query string, limit int) ([]*hub.MemoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, key, content, created_at, updated_at
FROM memory_items
WHERE user_id = ? AND (key LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')
ORDER BY updated_at DESC LIMIT ?
`, userID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search memory items: %w", err)
	}
	defer rows.Close()
	return collectMemoryItems(rows)
}

// ListMemoryItems returns every item a user has stored, newest first.
func (s *Store) ListMemoryItems(ctx context.Context, userID string, limit int) ([]*hub.MemoryItem, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, key, content, created_at, updated_at
FROM memory_items WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	defer rows.Close()
	return collectMemoryItems(rows)
}

// DeleteMemoryItem removes one item by key. Returns ErrNotFound when the
// key does not exist for that user.
func (s *Store) DeleteMemoryItem(ctx context.Context, userID, key string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM memory_items WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("delete memory item: %w", err)
	}
	return requireRowAffected(res)
}

func scanMemoryItem(sc rowScanner) (*hub.MemoryItem, error) {
	var (
		item                 hub.MemoryItem
		createdAt, updatedAt int64
	)
	err := sc.Scan(&item.ID, &item.UserID, &item.Key, &item.Content, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

func collectMemoryItems(rows *sql.Rows) ([]*hub.MemoryItem, error) {
	var out []*hub.MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
