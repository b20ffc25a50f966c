// Package provider holds the static catalog of service integrations the
// hub can route tool calls to. The registry is built once at startup and
// never mutated afterwards; dispatch code resolves providers and tools
// through it and never special-cases a provider by name.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"mcphub/internal/hub"
	"mcphub/internal/vault"
)

// Credential is the decrypted secret material passed to Execute. Secret
// holds the provider access token, API key, or key material wrapped so
// it cannot leak through formatting; Meta is the connection's provider
// metadata JSON.
type Credential struct {
	Secret vault.RedactedToken
	Meta   string
}

// Grant is the outcome of an upstream OAuth exchange or refresh, mapped
// to connection fields. A zero ExpiresAt means the secret does not
// expire.
type Grant struct {
	Secret        string
	RefreshSecret string
	ExpiresAt     time.Time
	MetaJSON      string
}

// Provider is one service integration: a tool catalog plus an execution
// entry point.
type Provider interface {
	Name() string
	DisplayName() string
	Description() string
	AuthType() hub.AuthType

	// Tools returns the static tool catalog.
	Tools() []mcp.Tool

	// Execute runs one tool and returns the JSON payload. Arguments have
	// already been validated against the tool schema.
	Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error)
}

// OAuthProvider describes the upstream OAuth application for providers
// with AuthType oauth2.
type OAuthProvider interface {
	Provider

	// Endpoint returns the upstream authorize and token URLs.
	Endpoint() oauth2.Endpoint

	// DefaultScopes is used when providers.yaml configures none.
	DefaultScopes() []string

	// ConnectionGrant maps a token response to connection fields,
	// fetching provider metadata (workspace, site URL) where the
	// integration needs it at call time.
	ConnectionGrant(ctx context.Context, tok *oauth2.Token) (Grant, error)
}

// Registry is the read-only provider catalog.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds the catalog from the given providers. Duplicate
// names are a programming error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// List returns all providers sorted by name.
func (r *Registry) List() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ResolveTool maps a fully qualified tool name like "slack.messages.post"
// to its provider and definition. Tool names are namespaced by the
// provider name before the first dot.
func (r *Registry) ResolveTool(toolName string) (Provider, mcp.Tool, error) {
	name, _, ok := strings.Cut(toolName, ".")
	if !ok {
		return nil, mcp.Tool{}, hub.NewValidationError(fmt.Sprintf("unknown tool %q", toolName))
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, mcp.Tool{}, hub.NewValidationError(fmt.Sprintf("unknown tool %q", toolName))
	}
	for _, t := range p.Tools() {
		if t.Name == toolName {
			return p, t, nil
		}
	}
	return nil, mcp.Tool{}, hub.NewValidationError(fmt.Sprintf("unknown tool %q", toolName))
}
