package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/config"
	"mcphub/internal/hub"
	"mcphub/internal/provider"
	"mcphub/internal/store"
	"mcphub/internal/vault"
)

type fixture struct {
	registry *Registry
	store    *store.Store
	vault    *vault.Vault
	user     *hub.User
}

func newFixture(t *testing.T, providersYAML string) *fixture {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, err := vault.New("test-secret-key-for-connection-tests")
	require.NoError(t, err)

	providers, err := provider.DefaultRegistry(s)
	require.NoError(t, err)

	credsPath := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(credsPath, []byte(providersYAML), 0o600))
	creds, err := config.NewProviderRegistry(credsPath)
	require.NoError(t, err)

	user := &hub.User{
		ID: uuid.NewString(), Email: "c@example.com", PasswordHash: "x",
		Role: hub.RoleUser, Status: hub.UserStatusApproved, IsActive: true,
	}
	require.NoError(t, s.CreateUser(context.Background(), user))

	return &fixture{
		registry: NewRegistry(s, v, providers, creds, "https://hub.example", 10*time.Minute),
		store:    s,
		vault:    v,
		user:     user,
	}
}

func (f *fixture) seedConnection(t *testing.T, providerName, secret, refreshSecret string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()

	secretEnc, err := f.vault.Encrypt(secret)
	require.NoError(t, err)
	var refreshEnc string
	if refreshSecret != "" {
		refreshEnc, err = f.vault.Encrypt(refreshSecret)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.UpsertConnection(ctx, &hub.Connection{
		ID:               uuid.NewString(),
		UserID:           f.user.ID,
		Provider:         providerName,
		AuthType:         hub.AuthTypeOAuth2,
		SecretEnc:        secretEnc,
		RefreshSecretEnc: refreshEnc,
		ExpiresAt:        expiresAt,
		MetaJSON:         "{}",
		IsEnabled:        true,
	}))
}

func TestEnsureValidNotConnected(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.registry.EnsureValid(context.Background(), f.user.ID, "slack")
	require.Error(t, err)
	assert.Equal(t, hub.KindNotConnected, hub.KindOf(err))
}

func TestEnsureValidDisabledConnection(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.seedConnection(t, "slack", "tok", "", time.Time{})
	require.NoError(t, f.registry.Disconnect(ctx, f.user.ID, "slack", false))

	_, err := f.registry.EnsureValid(ctx, f.user.ID, "slack")
	require.Error(t, err)
	assert.Equal(t, hub.KindNotConnected, hub.KindOf(err))
}

func TestEnsureValidReturnsDecryptedSecret(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.seedConnection(t, "slack", "xoxb-token", "", time.Now().Add(time.Hour))

	cred, err := f.registry.EnsureValid(ctx, f.user.ID, "slack")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-token", cred.Secret.Value())
}

func TestEnsureValidMemoryProvider(t *testing.T) {
	f := newFixture(t, "")

	cred, err := f.registry.EnsureValid(context.Background(), f.user.ID, "memory")
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, cred.Secret.Value())
}

func TestEnsureValidExpiredWithoutRefreshSecret(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.seedConnection(t, "slack", "stale", "", time.Now().Add(-time.Hour))

	_, err := f.registry.EnsureValid(ctx, f.user.ID, "slack")
	require.Error(t, err)
	assert.Equal(t, hub.KindAuthError, hub.KindOf(err))
}

func TestStoreAPIKeyRoundTrip(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.registry.StoreAPIKey(ctx, f.user.ID, "binance", `{"api_key":"k","api_secret":"s"}`)
	require.NoError(t, err)

	cred, err := f.registry.EnsureValid(ctx, f.user.ID, "binance")
	require.NoError(t, err)
	assert.Equal(t, `{"api_key":"k","api_secret":"s"}`, cred.Secret.Value())

	// OAuth-only providers reject direct key storage.
	_, err = f.registry.StoreAPIKey(ctx, f.user.ID, "slack", "nope")
	require.Error(t, err)
	assert.Equal(t, hub.KindValidationError, hub.KindOf(err))
}

func TestStartAuthorizationBuildsRedirect(t *testing.T) {
	f := newFixture(t, `
providers:
  slack:
    client_id: slack-id
    client_secret: slack-secret
`)
	ctx := context.Background()

	redirect, err := f.registry.StartAuthorization(ctx, f.user.ID, "slack")
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "slack.com", parsed.Host)
	assert.Equal(t, "slack-id", parsed.Query().Get("client_id"))
	assert.NotEmpty(t, parsed.Query().Get("state"))
	assert.Contains(t, parsed.Query().Get("redirect_uri"), "/integrations/slack/callback")
}

func TestStartAuthorizationUnconfiguredProvider(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.registry.StartAuthorization(context.Background(), f.user.ID, "slack")
	require.Error(t, err)
	assert.Equal(t, hub.KindValidationError, hub.KindOf(err))
}

func TestCompleteAuthorizationRejectsUnknownState(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.registry.CompleteAuthorization(context.Background(), "bogus-state", "code")
	require.Error(t, err)
	assert.Equal(t, hub.KindAuthError, hub.KindOf(err))
}

func TestRefreshCoalescing(t *testing.T) {
	var refreshCalls atomic.Int64
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		refreshCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh-token","token_type":"bearer","refresh_token":"next-refresh","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	f := newFixture(t, fmt.Sprintf(`
providers:
  slack:
    client_id: slack-id
    client_secret: slack-secret
    token_url: %s
`, tokenServer.URL))
	ctx := context.Background()

	f.seedConnection(t, "slack", "stale-token", "old-refresh", time.Now().Add(-time.Minute))

	const workers = 8
	var wg sync.WaitGroup
	creds := make([]provider.Credential, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = f.registry.EnsureValid(ctx, f.user.ID, "slack")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-token", creds[i].Secret.Value())
	}
	assert.Equal(t, int64(1), refreshCalls.Load())

	// The rotated secrets are persisted encrypted.
	conn, err := f.store.GetConnection(ctx, f.user.ID, "slack")
	require.NoError(t, err)
	secret, err := f.vault.Decrypt(conn.SecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", secret)
	refresh, err := f.vault.Decrypt(conn.RefreshSecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "next-refresh", refresh)
}

func TestRefreshSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Cancel the caller mid-refresh; the detached refresh context
		// must carry the exchange through for any coalesced waiters.
		cancel()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"surviving-token","token_type":"bearer","refresh_token":"next-refresh","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	f := newFixture(t, fmt.Sprintf(`
providers:
  slack:
    client_id: slack-id
    client_secret: slack-secret
    token_url: %s
`, tokenServer.URL))

	f.seedConnection(t, "slack", "stale-token", "old-refresh", time.Now().Add(-time.Minute))

	cred, err := f.registry.EnsureValid(ctx, f.user.ID, "slack")
	require.NoError(t, err)
	assert.Equal(t, "surviving-token", cred.Secret.Value())

	conn, err := f.store.GetConnection(context.Background(), f.user.ID, "slack")
	require.NoError(t, err)
	secret, err := f.vault.Decrypt(conn.SecretEnc)
	require.NoError(t, err)
	assert.Equal(t, "surviving-token", secret)
}

func TestDisconnectHardDeletes(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.seedConnection(t, "slack", "tok", "", time.Time{})
	require.NoError(t, f.registry.Disconnect(ctx, f.user.ID, "slack", true))

	_, err := f.store.GetConnection(ctx, f.user.ID, "slack")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconnectRestoresSoftDisabled(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.seedConnection(t, "slack", "kept-token", "", time.Now().Add(time.Hour))
	require.NoError(t, f.registry.Disconnect(ctx, f.user.ID, "slack", false))
	require.NoError(t, f.registry.Reconnect(ctx, f.user.ID, "slack"))

	cred, err := f.registry.EnsureValid(ctx, f.user.ID, "slack")
	require.NoError(t, err)
	assert.Equal(t, "kept-token", cred.Secret.Value())
}
