// Package logging provides mcphub's structured logging system with unified
// log handling and audit event emission.
//
// The package is built on Go's standard slog package. All log entries carry
// a subsystem identifier ("Gateway", "AuthServer", "Connections", ...) so
// operators can filter by component.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("Bootstrap", "listening on %s", addr)
//	logging.Error("Store", err, "migration failed")
//
// # Audit logging
//
// Security-sensitive operations (token issuance, refresh rotation, reuse
// detection, client registration) additionally emit audit events:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "refresh_token_reuse",
//	    Outcome: "failure",
//	    UserID:  userID,
//	    Target:  familyID,
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix for easy
// filtering by log aggregation systems. They complement, and never replace,
// the persistent audit trail written by internal/audit.
//
// Credential values must never reach this package; use TruncateToken when a
// token reference is needed for correlation.
package logging
