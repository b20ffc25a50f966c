package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/hub"
	"mcphub/internal/store"
)

// Memory is the built-in per-user note store. It needs no external
// credential: the dispatcher passes the caller's user ID as the secret,
// so every tool call is scoped to its own rows.
type Memory struct {
	store *store.Store
}

func NewMemory(s *store.Store) *Memory { return &Memory{store: s} }

func (m *Memory) Name() string           { return "memory" }
func (m *Memory) DisplayName() string    { return "Memory" }
func (m *Memory) Description() string    { return "Persistent per-user memory for notes and context" }
func (m *Memory) AuthType() hub.AuthType { return hub.AuthTypeInternal }

func (m *Memory) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("memory.remember", "Store a note under a key, replacing any existing note with that key",
			requiredString("key", "Short identifier for the note"),
			requiredString("content", "The note text"),
		),
		newTool("memory.recall", "Search stored notes by key or content",
			requiredString("query", "Search text"),
			intArg("limit", "Max notes to return", 20),
		),
		newTool("memory.forget", "Delete a stored note by key",
			requiredString("key", "Key of the note to delete"),
		),
		newTool("memory.list", "List all stored notes, newest first",
			intArg("limit", "Max notes to return", 50),
		),
	}
}

func (m *Memory) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	userID := cred.Secret.Value()
	if userID == "" {
		return "", hub.NewInternalError(fmt.Errorf("memory tool invoked without a user scope"))
	}

	switch tool {
	case "memory.remember":
		item := &hub.MemoryItem{
			ID:      uuid.NewString(),
			UserID:  userID,
			Key:     strVal(args, "key", ""),
			Content: strVal(args, "content", ""),
		}
		if err := m.store.UpsertMemoryItem(ctx, item); err != nil {
			return "", hub.NewInternalError(err)
		}
		return marshalResult(map[string]any{"stored": true, "key": item.Key})

	case "memory.recall":
		items, err := m.store.SearchMemoryItems(ctx, userID, strVal(args, "query", ""), intVal(args, "limit", 20))
		if err != nil {
			return "", hub.NewInternalError(err)
		}
		return marshalResult(map[string]any{"items": itemsPayload(items)})

	case "memory.forget":
		key := strVal(args, "key", "")
		err := m.store.DeleteMemoryItem(ctx, userID, key)
		if errors.Is(err, store.ErrNotFound) {
			return "", hub.NewValidationError(fmt.Sprintf("no note stored under key %q", key))
		}
		if err != nil {
			return "", hub.NewInternalError(err)
		}
		return marshalResult(map[string]any{"deleted": true, "key": key})

	case "memory.list":
		items, err := m.store.ListMemoryItems(ctx, userID, intVal(args, "limit", 50))
		if err != nil {
			return "", hub.NewInternalError(err)
		}
		return marshalResult(map[string]any{"items": itemsPayload(items)})
	}
	return "", unknownTool(m.Name(), tool)
}

func itemsPayload(items []*hub.MemoryItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"key":        item.Key,
			"content":    item.Content,
			"updated_at": item.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out
}

func marshalResult(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	return string(data), nil
}
