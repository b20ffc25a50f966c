package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mcphub/internal/config"
	"mcphub/internal/hub"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:         "127.0.0.1:0",
		PublicURL:          "https://hub.example.com",
		SecretKey:          "test-secret-key-test-secret-key!",
		DatabasePath:       ":memory:",
		LogLevel:           "error",
		AccessTokenTTL:     30 * time.Minute,
		RefreshTokenTTL:    720 * time.Hour,
		StateTTL:           10 * time.Minute,
		RateLimitPerMinute: 120,
		InvokeTimeout:      5 * time.Second,
		AuditQueueSize:     16,
		ProvidersFile:      filepath.Join(t.TempDir(), "providers.yaml"),
	}
}

func TestNewApplication(t *testing.T) {
	a, err := NewApplication(testConfig(t), "test")
	require.NoError(t, err)
	a.shutdown(context.Background())
}

func TestBootstrapAdmin(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminEmail = "Admin@Example.com"
	cfg.AdminPassword = "first-boot-password"

	a, err := NewApplication(cfg, "test")
	require.NoError(t, err)
	defer a.shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, a.bootstrapAdmin(ctx))

	admin, err := a.store.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, hub.RoleAdmin, admin.Role)
	assert.True(t, admin.Approved())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("first-boot-password")))

	// A second boot with a rotated password must not touch the account.
	a.cfg.AdminPassword = "rotated-password"
	require.NoError(t, a.bootstrapAdmin(ctx))

	again, err := a.store.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, admin.PasswordHash, again.PasswordHash)
}

func TestBootstrapAdminSkippedWhenUnconfigured(t *testing.T) {
	a, err := NewApplication(testConfig(t), "test")
	require.NoError(t, err)
	defer a.shutdown(context.Background())

	ctx := context.Background()
	require.NoError(t, a.bootstrapAdmin(ctx))

	n, err := a.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
