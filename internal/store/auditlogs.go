package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mcphub/internal/hub"
)

// AppendAuditEntry inserts one immutable audit row. There is deliberately
// no update or delete counterpart.
func (s *Store) AppendAuditEntry(ctx context.Context, entry *hub.AuditEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("audit entry id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("audit action is required")
	}
	if strings.TrimSpace(entry.Status) == "" {
		return fmt.Errorf("audit status is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_logs (id, user_id, provider, action, tool_name, request_json, response_json, status, error_text, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.ID,
		nullString(entry.UserID),
		nullString(entry.Provider),
		entry.Action,
		nullString(entry.ToolName),
		nullString(entry.RequestJSON),
		nullString(entry.ResponseJSON),
		entry.Status,
		nullString(entry.ErrorText),
		toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest entries for a user, most recent
// first, capped at limit.
func (s *Store) ListAuditEntries(ctx context.Context, userID string, limit int) ([]*hub.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, provider, action, tool_name, request_json, response_json, status, error_text, created_at
FROM audit_logs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*hub.AuditEntry
	for rows.Next() {
		var (
			e                                      hub.AuditEntry
			uid, provider, tool, req, resp, errTxt sql.NullString
			createdAt                              int64
		)
		if err := rows.Scan(&e.ID, &uid, &provider, &e.Action, &tool, &req, &resp, &e.Status, &errTxt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.UserID = uid.String
		e.Provider = provider.String
		e.ToolName = tool.String
		e.RequestJSON = req.String
		e.ResponseJSON = resp.String
		e.ErrorText = errTxt.String
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}
