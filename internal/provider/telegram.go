package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"

	"mcphub/internal/hub"
)

// Telegram talks to the Bot API. The credential is a bot token supplied
// by the user; it never expires and needs no refresh.
type Telegram struct{}

func NewTelegram() *Telegram { return &Telegram{} }

func (t *Telegram) Name() string           { return "telegram" }
func (t *Telegram) DisplayName() string    { return "Telegram" }
func (t *Telegram) Description() string    { return "Messaging via the Telegram Bot API" }
func (t *Telegram) AuthType() hub.AuthType { return hub.AuthTypeCustom }

func (t *Telegram) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("telegram.messages.send", "Send a message to a Telegram chat",
			requiredString("chat_id", "Chat ID or @channelusername"),
			requiredString("text", "Message text"),
			boolArg("disable_notification", "Send silently"),
		),
		newTool("telegram.updates.list", "Fetch recent updates (incoming messages) for the bot",
			intArg("limit", "Max updates to return", 20),
			intArg("offset", "Return updates with ID greater than this", nil),
		),
		newTool("telegram.chat.get", "Get information about a Telegram chat",
			requiredString("chat_id", "Chat ID or @channelusername"),
		),
	}
}

func (t *Telegram) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	client := &apiClient{
		provider: t.Name(),
		baseURL:  "https://api.telegram.org/bot" + cred.Secret.Value(),
	}

	var result string
	var err error
	switch tool {
	case "telegram.messages.send":
		body := map[string]any{
			"chat_id": args["chat_id"],
			"text":    args["text"],
		}
		if boolVal(args, "disable_notification", false) {
			body["disable_notification"] = true
		}
		result, err = t.call(ctx, client, "/sendMessage", nil, body)

	case "telegram.updates.list":
		q := url.Values{"limit": {strconv.Itoa(intVal(args, "limit", 20))}}
		if offset := intVal(args, "offset", 0); offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
		result, err = t.call(ctx, client, "/getUpdates", q, nil)

	case "telegram.chat.get":
		q := url.Values{"chat_id": {strVal(args, "chat_id", "")}}
		result, err = t.call(ctx, client, "/getChat", q, nil)

	default:
		return "", unknownTool(t.Name(), tool)
	}
	return result, err
}

// call folds the Bot API's in-band "ok" flag into the error path. The
// description field is Telegram's own short error string.
func (t *Telegram) call(ctx context.Context, client *apiClient, path string, query url.Values, body map[string]any) (string, error) {
	var result gjson.Result
	var err error
	if body != nil {
		result, err = client.postJSON(ctx, path, body)
	} else {
		result, err = client.get(ctx, path, query)
	}
	if err != nil {
		return "", err
	}
	if !result.Get("ok").Bool() {
		return "", hub.NewProviderError(t.Name(), 0,
			fmt.Errorf("telegram api error: %s", result.Get("description").String()))
	}
	return result.Raw, nil
}
