package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HUB_SECRET_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://localhost:8080", cfg.Issuer())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("HUB_SECRET_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("HUB_SECRET_KEY", "too-short")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsLoneAdminEmail(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HUB_ADMIN_EMAIL", "admin@example.com")
	_, err := Load()
	require.Error(t, err)
}

func TestIssuerTrimsTrailingSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HUB_PUBLIC_URL", "https://hub.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example.com", cfg.Issuer())
}

func TestProviderRegistryMissingFile(t *testing.T) {
	r, err := NewProviderRegistry(filepath.Join(t.TempDir(), "providers.yaml"))
	require.NoError(t, err)

	_, ok := r.Credentials("slack")
	assert.False(t, ok)
}

func TestProviderRegistryLoadsAndFiltersDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  slack:
    client_id: slack-id
    client_secret: slack-secret
    scopes: [chat:write, channels:read]
  miro:
    client_id: miro-id
    client_secret: miro-secret
    disabled: true
`), 0o600))

	r, err := NewProviderRegistry(path)
	require.NoError(t, err)

	slack, ok := r.Credentials("slack")
	require.True(t, ok)
	assert.Equal(t, "slack-id", slack.ClientID)
	assert.Equal(t, []string{"chat:write", "channels:read"}, slack.Scopes)

	_, ok = r.Credentials("miro")
	assert.False(t, ok)

	_, ok = r.Credentials("unknown")
	assert.False(t, ok)
}

func TestProviderRegistryReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  slack:\n    client_id: before\n"), 0o600))

	r, err := NewProviderRegistry(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("providers:\n  slack:\n    client_id: after\n"), 0o600))
	require.NoError(t, r.reload())

	slack, ok := r.Credentials("slack")
	require.True(t, ok)
	assert.Equal(t, "after", slack.ClientID)
}
