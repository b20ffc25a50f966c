// Package audit persists the immutable audit trail. Entries are redacted
// before they leave the caller and written by a single background worker
// so the request path never blocks on the database. Security-relevant
// events can opt into a synchronous write.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcphub/internal/hub"
	"mcphub/internal/store"
	"mcphub/pkg/logging"
)

// Logger is the asynchronous audit appender.
type Logger struct {
	store *store.Store
	queue chan *hub.AuditEntry

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLogger starts the background writer. queueSize bounds the number of
// in-flight entries; when the queue is full new entries are dropped with
// a log line rather than blocking a request.
func NewLogger(s *store.Store, queueSize int) *Logger {
	if queueSize <= 0 {
		queueSize = 1024
	}
	l := &Logger{
		store: s,
		queue: make(chan *hub.AuditEntry, queueSize),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) run() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(entry)
	}
}

func (l *Logger) write(entry *hub.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.AppendAuditEntry(ctx, entry); err != nil {
		// The trail must never fail a request; the side channel is all
		// that records the loss.
		logging.Error("Audit", err, "Failed to persist audit entry action=%s", entry.Action)
	}
}

// Record redacts and enqueues an entry.
func (l *Logger) Record(entry *hub.AuditEntry) {
	prepare(entry)
	select {
	case l.queue <- entry:
	default:
		logging.Warn("Audit", "Audit queue full, dropping entry action=%s user=%s", entry.Action, entry.UserID)
	}
}

// RecordSync redacts and writes an entry before returning. Used for
// security events that must be on disk before the response goes out.
func (l *Logger) RecordSync(entry *hub.AuditEntry) {
	prepare(entry)
	l.write(entry)
}

// Close drains the queue and stops the worker.
func (l *Logger) Close() {
	l.stopOnce.Do(func() { close(l.queue) })
	l.wg.Wait()
}

func prepare(entry *hub.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.RequestJSON = RedactJSON(entry.RequestJSON)
	entry.ResponseJSON = RedactJSON(entry.ResponseJSON)
}

const redactedPlaceholder = "[REDACTED]"

// sensitiveKeys marks JSON field names whose values never reach the
// audit trail, compared case-insensitively with separators stripped.
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"idtoken":       {},
	"apikey":        {},
	"apisecret":     {},
	"secret":        {},
	"clientsecret":  {},
	"password":      {},
	"authorization": {},
	"credential":    {},
	"cookie":        {},
	"privatekey":    {},
	"signature":     {},
}

func isSensitiveKey(key string) bool {
	normalized := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(key))
	_, hit := sensitiveKeys[normalized]
	return hit
}

// RedactJSON replaces the values of sensitive fields at any depth. Input
// that does not parse as JSON is replaced wholesale, never passed
// through, since its contents cannot be vetted.
func RedactJSON(raw string) string {
	if raw == "" {
		return ""
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return `{"redacted":"unparseable payload"}`
	}
	redacted, err := json.Marshal(redactValue(value))
	if err != nil {
		return `{"redacted":"unparseable payload"}`
	}
	return string(redacted)
}

func redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, inner := range v {
			if isSensitiveKey(key) {
				v[key] = redactedPlaceholder
				continue
			}
			v[key] = redactValue(inner)
		}
		return v
	case []interface{}:
		for i, inner := range v {
			v[i] = redactValue(inner)
		}
		return v
	default:
		return value
	}
}
