package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"mcphub/internal/hub"
)

const slackAPIBase = "https://slack.com/api"

// Slack is the Slack workspace integration.
type Slack struct{}

func NewSlack() *Slack { return &Slack{} }

func (s *Slack) Name() string           { return "slack" }
func (s *Slack) DisplayName() string    { return "Slack" }
func (s *Slack) Description() string    { return "Team communication and collaboration platform" }
func (s *Slack) AuthType() hub.AuthType { return hub.AuthTypeOAuth2 }

func (s *Slack) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  "https://slack.com/oauth/v2/authorize",
		TokenURL: "https://slack.com/api/oauth.v2.access",
	}
}

func (s *Slack) DefaultScopes() []string {
	return []string{"channels:read", "channels:history", "chat:write", "search:read", "users:read"}
}

func (s *Slack) ConnectionGrant(ctx context.Context, tok *oauth2.Token) (Grant, error) {
	meta := map[string]any{}
	if team, ok := tok.Extra("team").(map[string]any); ok {
		meta["team_id"] = team["id"]
		meta["team_name"] = team["name"]
	}
	if authed, ok := tok.Extra("authed_user").(map[string]any); ok {
		meta["user_id"] = authed["id"]
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Grant{}, hub.NewInternalError(fmt.Errorf("encode slack metadata: %w", err))
	}
	return Grant{
		Secret:        tok.AccessToken,
		RefreshSecret: tok.RefreshToken,
		ExpiresAt:     tok.Expiry,
		MetaJSON:      string(metaJSON),
	}, nil
}

func (s *Slack) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("slack.channels.list", "List all channels in the Slack workspace",
			intArg("limit", "Max channels to return", 100),
			stringArg("cursor", "Pagination cursor"),
			arg{name: "types", typ: "string", description: "Channel types (comma-separated)", def: "public_channel,private_channel"},
		),
		newTool("slack.users.list", "List all users in the Slack workspace",
			intArg("limit", "Max users to return", 100),
			stringArg("cursor", "Pagination cursor"),
		),
		newTool("slack.messages.post", "Post a message to a Slack channel",
			requiredString("channel", "Channel ID or name"),
			requiredString("text", "Message text"),
			stringArg("thread_ts", "Thread timestamp for replies"),
		),
		newTool("slack.messages.search", "Search for messages in Slack",
			requiredString("query", "Search query"),
			intArg("count", "Number of results", 20),
			intArg("page", "Page number", 1),
		),
		newTool("slack.messages.history", "Get message history for a Slack channel",
			requiredString("channel", "Channel ID"),
			intArg("limit", "Max messages to return", 100),
			stringArg("cursor", "Pagination cursor"),
		),
	}
}

func (s *Slack) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	client := &apiClient{
		provider: s.Name(),
		baseURL:  slackAPIBase,
		headers: map[string]string{
			"Authorization": "Bearer " + cred.Secret.Value(),
		},
	}

	switch tool {
	case "slack.channels.list":
		q := url.Values{
			"limit": {strconv.Itoa(intVal(args, "limit", 100))},
			"types": {strVal(args, "types", "public_channel,private_channel")},
		}
		if cursor := strVal(args, "cursor", ""); cursor != "" {
			q.Set("cursor", cursor)
		}
		return s.call(ctx, client, "/conversations.list", q, nil)

	case "slack.users.list":
		q := url.Values{"limit": {strconv.Itoa(intVal(args, "limit", 100))}}
		if cursor := strVal(args, "cursor", ""); cursor != "" {
			q.Set("cursor", cursor)
		}
		return s.call(ctx, client, "/users.list", q, nil)

	case "slack.messages.post":
		body := map[string]any{
			"channel": args["channel"],
			"text":    args["text"],
		}
		if ts := strVal(args, "thread_ts", ""); ts != "" {
			body["thread_ts"] = ts
		}
		return s.call(ctx, client, "/chat.postMessage", nil, body)

	case "slack.messages.search":
		q := url.Values{
			"query": {strVal(args, "query", "")},
			"count": {strconv.Itoa(intVal(args, "count", 20))},
			"page":  {strconv.Itoa(intVal(args, "page", 1))},
		}
		return s.call(ctx, client, "/search.messages", q, nil)

	case "slack.messages.history":
		q := url.Values{
			"channel": {strVal(args, "channel", "")},
			"limit":   {strconv.Itoa(intVal(args, "limit", 100))},
		}
		if cursor := strVal(args, "cursor", ""); cursor != "" {
			q.Set("cursor", cursor)
		}
		return s.call(ctx, client, "/conversations.history", q, nil)
	}
	return "", unknownTool(s.Name(), tool)
}

// call wraps the shared client and folds Slack's in-band "ok" flag into
// the error path. The error token from Slack is a short code, safe to
// surface.
func (s *Slack) call(ctx context.Context, client *apiClient, path string, query url.Values, body map[string]any) (string, error) {
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
		return "", hub.NewProviderError(s.Name(), 0,
			fmt.Errorf("slack api error: %s", result.Get("error").String()))
	}
	return result.Raw, nil
}

var _ OAuthProvider = (*Slack)(nil)
