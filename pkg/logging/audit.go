package logging

import (
	"context"
	"log/slog"
	"os"
)

// AuditEvent describes a security-sensitive operation for the audit trail.
// Audit events are emitted at INFO level with an [AUDIT] prefix so log
// aggregation systems can filter them reliably.
type AuditEvent struct {
	// Action is the operation performed, e.g. "token_exchange" or
	// "refresh_token_reuse".
	Action string

	// Outcome is "success" or "failure".
	Outcome string

	// UserID identifies the acting user, if any.
	UserID string

	// ClientID identifies the acting OAuth client, if any.
	ClientID string

	// Target is the object of the operation (provider, tool, token family).
	Target string

	// Detail is an optional human-readable note. It must never contain
	// credential material.
	Detail string
}

// Audit emits an audit event through the logging system.
func Audit(event AuditEvent) {
	if defaultLogger == nil {
		Init(LevelInfo, os.Stderr)
	}

	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Detail != "" {
		attrs = append(attrs, slog.String("detail", event.Detail))
	}

	defaultLogger.LogAttrs(context.Background(), slog.LevelInfo,
		"[AUDIT] "+event.Action, attrs...)
}

// TruncateToken returns a short, log-safe prefix of a credential value.
// Only the first 8 characters are retained, enough to correlate log lines
// without exposing the secret.
func TruncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
