package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"mcphub/internal/hub"
)

// httpClient is shared by all adapters. Per-call deadlines come from the
// dispatcher's context; the client timeout is a backstop.
var httpClient = &http.Client{Timeout: 30 * time.Second}

const maxResponseBytes = 4 << 20

// apiClient is a thin JSON-over-HTTP helper bound to one provider's base
// URL and auth headers. Upstream bodies are parsed with gjson and never
// echoed into error messages; only the status code is surfaced.
type apiClient struct {
	provider string
	baseURL  string
	headers  map[string]string
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// getRaw issues a GET with a pre-encoded query string, for APIs where
// the parameter encoding is part of a request signature.
func (c *apiClient) getRaw(ctx context.Context, path, rawQuery string) (gjson.Result, error) {
	if rawQuery != "" {
		path += "?" + rawQuery
	}
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body map[string]any) (gjson.Result, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *apiClient) putJSON(ctx context.Context, path string, body map[string]any) (gjson.Result, error) {
	return c.do(ctx, http.MethodPut, path, nil, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (gjson.Result, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body map[string]any) (gjson.Result, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, hub.NewInternalError(fmt.Errorf("encode %s request: %w", c.provider, err))
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return gjson.Result{}, hub.NewInternalError(fmt.Errorf("build %s request: %w", c.provider, err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, hub.NewProviderError(c.provider, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, hub.NewProviderError(c.provider, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, hub.NewProviderError(c.provider, resp.StatusCode,
			fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode))
	}
	if len(raw) == 0 {
		return gjson.Parse("{}"), nil
	}
	return gjson.ParseBytes(raw), nil
}

// unknownTool is returned by adapters when dispatch somehow reaches them
// with a tool the catalog does not declare.
func unknownTool(provider, tool string) error {
	return hub.NewValidationError(fmt.Sprintf("provider %q has no tool %q", provider, tool))
}
