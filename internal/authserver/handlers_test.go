package authserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/hub"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.svc).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestDiscoveryDocuments(t *testing.T) {
	_, srv := newTestServer(t)

	for _, path := range []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/openid-configuration",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var meta AuthorizationServerMetadata
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
		assert.Equal(t, testIssuerURL, meta.Issuer)
		assert.Equal(t, []string{"S256"}, meta.CodeChallengeMethodsSupported)
		assert.Contains(t, meta.GrantTypesSupported, "refresh_token")
		assert.Equal(t, testIssuerURL+"/oauth/revoke", meta.RevocationEndpoint)
	}

	resp, err := http.Get(srv.URL + "/.well-known/oauth-protected-resource")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res ProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, []string{testIssuerURL}, res.AuthorizationServers)
	assert.Equal(t, testIssuerURL+"/mcp", res.Resource)
}

func TestRegisterEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	body := strings.NewReader(`{"client_name":"cli","redirect_uris":["https://client.example.com/callback"]}`)
	resp, err := http.Post(srv.URL+"/oauth/register", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var reg RegistrationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	assert.True(t, strings.HasPrefix(reg.ClientID, "cli_"))
	assert.NotEmpty(t, reg.ClientSecret)

	bad, err := http.Post(srv.URL+"/oauth/register", "application/json", strings.NewReader(`{"client_name":"x"}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestTokenEndpointUnsupportedGrant(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/oauth/token", url.Values{"grant_type": {"password"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var body oauthErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unsupported_grant_type", body.Error)
}

var sessionInputRe = regexp.MustCompile(`name="session" value="([^"]+)"`)

// TestBrowserAuthorizationFlow walks the whole front channel: dynamic
// registration, the login form, the code redirect, and the exchange.
func TestBrowserAuthorizationFlow(t *testing.T) {
	f, srv := newTestServer(t)
	user := f.seedUser(t, hub.UserStatusApproved)

	reg, err := f.svc.RegisterClient(context.Background(), RegistrationRequest{
		ClientName:   "browser client",
		RedirectURIs: []string{"https://client.example.com/callback"},
	})
	require.NoError(t, err)

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	authorizeQuery := url.Values{
		"response_type":         {"code"},
		"client_id":             {reg.ClientID},
		"redirect_uri":          {"https://client.example.com/callback"},
		"scope":                 {"mcp"},
		"state":                 {"client-state-42"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}

	// GET renders the login form with a single-use session token.
	page, err := http.Get(srv.URL + "/oauth/authorize?" + authorizeQuery.Encode())
	require.NoError(t, err)
	defer page.Body.Close()
	require.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "nosniff", page.Header.Get("X-Content-Type-Options"))

	raw, err := io.ReadAll(page.Body)
	require.NoError(t, err)
	match := sessionInputRe.FindStringSubmatch(string(raw))
	require.Len(t, match, 2, "login form must carry a session token")

	// POST with credentials redirects back with code and state.
	form := url.Values{}
	for k, vs := range authorizeQuery {
		form.Set(k, vs[0])
	}
	form.Set("session", match[1])
	form.Set("email", user.Email)
	form.Set("password", testPassword)

	client := noRedirectClient()
	login, err := client.PostForm(srv.URL+"/oauth/authorize", form)
	require.NoError(t, err)
	defer login.Body.Close()
	require.Equal(t, http.StatusFound, login.StatusCode)

	loc, err := url.Parse(login.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", loc.Host)
	assert.Equal(t, "client-state-42", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// Replaying the consumed session is rejected.
	replay, err := client.PostForm(srv.URL+"/oauth/authorize", form)
	require.NoError(t, err)
	defer replay.Body.Close()
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)

	// Back channel: exchange the code.
	tokenResp, err := http.PostForm(srv.URL+"/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {reg.ClientID},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {"https://client.example.com/callback"},
	})
	require.NoError(t, err)
	defer tokenResp.Body.Close()
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)
	assert.Equal(t, "no-store", tokenResp.Header.Get("Cache-Control"))

	var tokens TokenResponse
	require.NoError(t, json.NewDecoder(tokenResp.Body).Decode(&tokens))
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	claims, err := f.issuer.Verify(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestAuthorizeRejectsBadQuery(t *testing.T) {
	f, srv := newTestServer(t)
	reg, err := f.svc.RegisterClient(context.Background(), RegistrationRequest{
		ClientName:   "c",
		RedirectURIs: []string{"https://client.example.com/callback"},
	})
	require.NoError(t, err)

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {reg.ClientID},
		"redirect_uri":          {"https://client.example.com/callback"},
		"code_challenge":        {"abc"},
		"code_challenge_method": {"plain"},
	}
	resp, err := http.Get(srv.URL + "/oauth/authorize?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWrongClientSecretOverHTTP(t *testing.T) {
	f, srv := newTestServer(t)
	reg, err := f.svc.RegisterClient(context.Background(), RegistrationRequest{
		ClientName:   "machine",
		RedirectURIs: []string{"https://client.example.com/callback"},
	})
	require.NoError(t, err)

	resp, err := http.PostForm(srv.URL+"/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {reg.ClientID},
		"client_secret": {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body oauthErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_client", body.Error)
}

func TestRevokeEndpoint(t *testing.T) {
	f, srv := newTestServer(t)
	user := f.seedUser(t, hub.UserStatusApproved)
	client := f.registerClient(t)
	tokens := f.issueTokens(t, user, client)

	resp, err := http.PostForm(srv.URL+"/oauth/revoke", url.Values{"token": {tokens.RefreshToken}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// An unknown token reveals nothing and still succeeds.
	resp, err = http.PostForm(srv.URL+"/oauth/revoke", url.Values{"token": {"no-such-token"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A missing token parameter is a malformed request.
	resp, err = http.PostForm(srv.URL+"/oauth/revoke", url.Values{})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body oauthErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body.Error)

	grant, err := http.PostForm(srv.URL+"/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
	})
	require.NoError(t, err)
	defer grant.Body.Close()
	var grantBody oauthErrorBody
	require.NoError(t, json.NewDecoder(grant.Body).Decode(&grantBody))
	require.Equal(t, http.StatusBadRequest, grant.StatusCode)
	assert.Equal(t, "invalid_grant", grantBody.Error)
}
