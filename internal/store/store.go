// Package store provides SQLite-backed persistence for the hub.
//
// The store is the single authoritative data store: users, connections,
// refresh-token families, ephemeral OAuth states, API clients, personal
// access tokens, memory items and the audit trail all live here. Schema
// changes ship as embedded migrations applied once at open.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mcphub/internal/store/migrations"
	"mcphub/pkg/logging"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrTokenReused is returned when a rotated refresh token is presented
// again. The caller must treat this as a theft signal.
var ErrTokenReused = errors.New("store: refresh token reuse detected")

// Store wraps the SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the store at the given path, applying pending migrations.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}

	// The pure-Go driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent transactions and keeps :memory: databases
	// from fragmenting across connections.
	sqlDB.SetMaxOpenConns(1)

	// PRAGMA foreign_keys must be set per connection; the DSN parameter
	// covers it but an explicit statement keeps older driver versions honest.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{sqlDB: sqlDB}
	if err := s.applyMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	logging.Debug("Store", "opened sqlite store at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) applyMigrations() error {
	return ApplyMigrations(s.sqlDB, migrations.FS)
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func millisOrZero(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return fromMillis(value.Int64)
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
