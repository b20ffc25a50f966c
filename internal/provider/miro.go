package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"mcphub/internal/hub"
)

const miroAPIBase = "https://api.miro.com/v2"

// Miro is the Miro whiteboard integration.
type Miro struct{}

func NewMiro() *Miro { return &Miro{} }

func (m *Miro) Name() string           { return "miro" }
func (m *Miro) DisplayName() string    { return "Miro" }
func (m *Miro) Description() string    { return "Visual collaboration and whiteboarding platform" }
func (m *Miro) AuthType() hub.AuthType { return hub.AuthTypeOAuth2 }

func (m *Miro) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  "https://miro.com/oauth/authorize",
		TokenURL: "https://api.miro.com/v1/oauth/token",
	}
}

func (m *Miro) DefaultScopes() []string {
	return []string{"boards:read", "boards:write", "identity:read", "team:read"}
}

func (m *Miro) ConnectionGrant(ctx context.Context, tok *oauth2.Token) (Grant, error) {
	return Grant{
		Secret:        tok.AccessToken,
		RefreshSecret: tok.RefreshToken,
		ExpiresAt:     tok.Expiry,
		MetaJSON:      "{}",
	}, nil
}

func (m *Miro) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("miro.boards.list", "List or search Miro boards accessible to the user",
			stringArg("query", "Search boards by title"),
			stringArg("team_id", "Filter by team ID"),
			intArg("limit", "Max boards to return", 20),
			stringArg("cursor", "Pagination cursor from previous response"),
		),
		newTool("miro.boards.get", "Get full details of a Miro board by ID",
			requiredString("board_id", "Board ID"),
		),
		newTool("miro.boards.create", "Create a new Miro board",
			requiredString("name", "Board name"),
			stringArg("description", "Board description"),
			stringArg("team_id", "Team ID to create the board in"),
		),
		newTool("miro.items.list", "List items on a Miro board",
			requiredString("board_id", "Board ID"),
			intArg("limit", "Max items to return", 50),
			stringArg("cursor", "Pagination cursor"),
			stringArg("type", "Filter by item type, e.g. sticky_note, text, shape"),
		),
		newTool("miro.sticky.create", "Create a sticky note on a Miro board",
			requiredString("board_id", "Board ID"),
			requiredString("content", "Sticky note text"),
			arg{name: "x", typ: "number", description: "X position"},
			arg{name: "y", typ: "number", description: "Y position"},
			stringArg("color", "Fill color, e.g. yellow, light_green"),
		),
	}
}

func (m *Miro) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	client := &apiClient{
		provider: m.Name(),
		baseURL:  miroAPIBase,
		headers: map[string]string{
			"Authorization": "Bearer " + cred.Secret.Value(),
		},
	}

	switch tool {
	case "miro.boards.list":
		q := url.Values{"limit": {strconv.Itoa(intVal(args, "limit", 20))}}
		if v := strVal(args, "query", ""); v != "" {
			q.Set("query", v)
		}
		if v := strVal(args, "team_id", ""); v != "" {
			q.Set("team_id", v)
		}
		if v := strVal(args, "cursor", ""); v != "" {
			q.Set("cursor", v)
		}
		result, err := client.get(ctx, "/boards", q)
		return result.Raw, err

	case "miro.boards.get":
		result, err := client.get(ctx, "/boards/"+url.PathEscape(strVal(args, "board_id", "")), nil)
		return result.Raw, err

	case "miro.boards.create":
		body := map[string]any{"name": args["name"]}
		if v := strVal(args, "description", ""); v != "" {
			body["description"] = v
		}
		if v := strVal(args, "team_id", ""); v != "" {
			body["teamId"] = v
		}
		result, err := client.postJSON(ctx, "/boards", body)
		return result.Raw, err

	case "miro.items.list":
		q := url.Values{"limit": {strconv.Itoa(intVal(args, "limit", 50))}}
		if v := strVal(args, "cursor", ""); v != "" {
			q.Set("cursor", v)
		}
		if v := strVal(args, "type", ""); v != "" {
			q.Set("type", v)
		}
		path := fmt.Sprintf("/boards/%s/items", url.PathEscape(strVal(args, "board_id", "")))
		result, err := client.get(ctx, path, q)
		return result.Raw, err

	case "miro.sticky.create":
		body := map[string]any{
			"data": map[string]any{"content": args["content"]},
		}
		if x, okX := args["x"]; okX {
			if y, okY := args["y"]; okY {
				body["position"] = map[string]any{"x": x, "y": y}
			}
		}
		if color := strVal(args, "color", ""); color != "" {
			body["style"] = map[string]any{"fillColor": color}
		}
		path := fmt.Sprintf("/boards/%s/sticky_notes", url.PathEscape(strVal(args, "board_id", "")))
		result, err := client.postJSON(ctx, path, body)
		return result.Raw, err
	}
	return "", unknownTool(m.Name(), tool)
}

var _ OAuthProvider = (*Miro)(nil)
