package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"mcphub/internal/hub"
)

const figmaAPIBase = "https://api.figma.com/v1"

// Figma is the Figma design file integration.
type Figma struct{}

func NewFigma() *Figma { return &Figma{} }

func (f *Figma) Name() string           { return "figma" }
func (f *Figma) DisplayName() string    { return "Figma" }
func (f *Figma) Description() string    { return "Collaborative interface design tool" }
func (f *Figma) AuthType() hub.AuthType { return hub.AuthTypeOAuth2 }

func (f *Figma) Endpoint() oauth2.Endpoint {
	// Figma authenticates the token request with basic auth.
	return oauth2.Endpoint{
		AuthURL:   "https://www.figma.com/oauth",
		TokenURL:  "https://api.figma.com/v1/oauth/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

func (f *Figma) DefaultScopes() []string {
	return []string{"file_content:read", "file_metadata:read", "file_comments:write", "current_user:read"}
}

func (f *Figma) ConnectionGrant(ctx context.Context, tok *oauth2.Token) (Grant, error) {
	return Grant{
		Secret:        tok.AccessToken,
		RefreshSecret: tok.RefreshToken,
		ExpiresAt:     tok.Expiry,
		MetaJSON:      "{}",
	}, nil
}

func (f *Figma) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("figma.users.me", "Get the authenticated Figma user"),
		newTool("figma.files.get", "Get a Figma file's document tree",
			requiredString("file_key", "File key from the Figma URL"),
			intArg("depth", "Tree depth to return", nil),
		),
		newTool("figma.files.get_nodes", "Get specific nodes from a Figma file",
			requiredString("file_key", "File key from the Figma URL"),
			requiredString("ids", "Comma-separated node IDs"),
		),
		newTool("figma.images.export", "Export nodes from a Figma file as images",
			requiredString("file_key", "File key from the Figma URL"),
			requiredString("ids", "Comma-separated node IDs"),
			enumArg("format", "Image format", "png", "svg", "jpg", "pdf"),
			arg{name: "scale", typ: "number", description: "Render scale between 0.01 and 4", def: 1},
		),
		newTool("figma.comments.list", "List comments on a Figma file",
			requiredString("file_key", "File key from the Figma URL"),
		),
		newTool("figma.comments.create", "Add a comment to a Figma file",
			requiredString("file_key", "File key from the Figma URL"),
			requiredString("message", "Comment text"),
		),
	}
}

func (f *Figma) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	client := &apiClient{
		provider: f.Name(),
		baseURL:  figmaAPIBase,
		headers: map[string]string{
			"Authorization": "Bearer " + cred.Secret.Value(),
		},
	}
	fileKey := url.PathEscape(strVal(args, "file_key", ""))

	switch tool {
	case "figma.users.me":
		result, err := client.get(ctx, "/me", nil)
		return result.Raw, err

	case "figma.files.get":
		q := url.Values{}
		if depth := intVal(args, "depth", 0); depth > 0 {
			q.Set("depth", strconv.Itoa(depth))
		}
		result, err := client.get(ctx, "/files/"+fileKey, q)
		return result.Raw, err

	case "figma.files.get_nodes":
		q := url.Values{"ids": {strVal(args, "ids", "")}}
		result, err := client.get(ctx, "/files/"+fileKey+"/nodes", q)
		return result.Raw, err

	case "figma.images.export":
		q := url.Values{
			"ids":    {strVal(args, "ids", "")},
			"format": {strVal(args, "format", "png")},
		}
		if scale, ok := args["scale"].(float64); ok && scale > 0 {
			q.Set("scale", strconv.FormatFloat(scale, 'f', -1, 64))
		}
		result, err := client.get(ctx, "/images/"+fileKey, q)
		return result.Raw, err

	case "figma.comments.list":
		result, err := client.get(ctx, "/files/"+fileKey+"/comments", nil)
		return result.Raw, err

	case "figma.comments.create":
		result, err := client.postJSON(ctx, "/files/"+fileKey+"/comments", map[string]any{
			"message": args["message"],
		})
		return result.Raw, err
	}
	return "", unknownTool(f.Name(), tool)
}

var _ OAuthProvider = (*Figma)(nil)
