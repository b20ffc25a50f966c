package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"mcphub/internal/hub"
	"mcphub/internal/store"
	"mcphub/internal/token"
)

func newHTTPFixture(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func doJSON(t *testing.T, method, url, bearer string, body []byte) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func (f *fixture) accessToken(t *testing.T, user *hub.User) string {
	t.Helper()
	access, _, err := f.issuer.IssueUserToken(user, "mcp")
	require.NoError(t, err)
	return access
}

func TestMCPRequiresBearer(t *testing.T) {
	_, srv := newHTTPFixture(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/mcp", "", rpcBody(1, "tools/list", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "oauth-protected-resource")

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/mcp", "garbage-token", rpcBody(1, "tools/list", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMCPWithJWT(t *testing.T) {
	f, srv := newHTTPFixture(t)
	user := f.seedUser(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/mcp", f.accessToken(t, user), rpcBody(1, "tools/list", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, gjson.Get(body, "result.tools.#").Int(), int64(10))
}

func TestMCPWithPAT(t *testing.T) {
	f, srv := newHTTPFixture(t)
	user := f.seedUser(t)

	raw, _, err := f.auth.CreatePAT(context.Background(), user.ID, "cli", 90*24*time.Hour)
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/mcp", raw, rpcBody(1, "tools/call", map[string]any{
		"name":      "memory.remember",
		"arguments": map[string]any{"key": "k", "content": "v"},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, gjson.Get(body, "result.content.0.text").String(), "stored")
}

func TestExpiredPATRejected(t *testing.T) {
	f, srv := newHTTPFixture(t)
	user := f.seedUser(t)
	ctx := context.Background()

	// Seed an already expired token directly; the service refuses to mint
	// one this short.
	raw, hash, err := token.NewPAT()
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePAT(ctx, &hub.PersonalAccessToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hash,
		Name:      "stale",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/mcp", raw, rpcBody(1, "tools/list", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A rejected token must not register as used.
	stored, err := f.store.GetPATByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, stored.LastUsedAt.IsZero())
}

func TestPATRestLifecycle(t *testing.T) {
	f, srv := newHTTPFixture(t)
	user := f.seedUser(t)
	bearer := f.accessToken(t, user)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/account/tokens", bearer,
		[]byte(`{"name":"laptop","lifetime_days":60}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw := gjson.Get(body, "token").String()
	id := gjson.Get(body, "id").String()
	require.NotEmpty(t, raw)
	require.NotEmpty(t, id)

	mcpResp, _ := doJSON(t, http.MethodPost, srv.URL+"/mcp", raw, rpcBody(1, "ping", nil))
	assert.Equal(t, http.StatusOK, mcpResp.StatusCode)

	del, _ := doJSON(t, http.MethodDelete, srv.URL+"/account/tokens/"+id, bearer, nil)
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	after, _ := doJSON(t, http.MethodPost, srv.URL+"/mcp", raw, rpcBody(2, "ping", nil))
	assert.Equal(t, http.StatusUnauthorized, after.StatusCode)
}

func TestIntegrationsREST(t *testing.T) {
	f, srv := newHTTPFixture(t)
	user := f.seedUser(t)
	bearer := f.accessToken(t, user)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/integrations/binance/key", bearer,
		[]byte(`{"key":"{\"api_key\":\"k\",\"api_secret\":\"s\"}"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "binance", gjson.Get(body, "provider").String())

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/integrations", bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, item := range gjson.Get(body, "integrations").Array() {
		if item.Get("name").String() == "binance" {
			assert.True(t, item.Get("connected").Bool())
		}
	}

	// OAuth providers refuse direct key storage.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/integrations/slack/key", bearer, []byte(`{"key":"xoxb-1"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Connecting an unconfigured OAuth provider fails cleanly.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/integrations/slack/connect", bearer, nil)
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/integrations/binance?hard=true", bearer, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Machine clients are locked out of the account API.
	clientTok, _, err := f.issuer.IssueClientToken("cli_m", "mcp")
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/integrations", clientTok, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccountPasswordAndDeletion(t *testing.T) {
	f, srv := newHTTPFixture(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("old-password-123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &hub.User{
		ID:           "user-" + t.Name(),
		Email:        t.Name() + "@example.com",
		PasswordHash: string(hash),
		Role:         hub.RoleUser,
		Status:       hub.UserStatusApproved,
		IsActive:     true,
	}
	require.NoError(t, f.store.CreateUser(ctx, user))
	bearer := f.accessToken(t, user)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/account/password", bearer,
		[]byte(`{"current_password":"guess","new_password":"new-password-456"}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/account/password", bearer,
		[]byte(`{"current_password":"old-password-123","new_password":"new-password-456"}`))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got, err := f.auth.AuthenticateUser(ctx, user.Email, "new-password-456")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = f.connections.StoreAPIKey(ctx, user.ID, "binance", `{"api_key":"k","api_secret":"s"}`)
	require.NoError(t, err)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/account", bearer, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = f.store.GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetConnection(ctx, user.ID, "binance")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHealthz(t *testing.T) {
	_, srv := newHTTPFixture(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", gjson.Get(body, "status").String())
}
