package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/hub"
)

func testIssuer(ttl time.Duration) *Issuer {
	return NewIssuer("test-secret", "https://hub.example", ttl)
}

func TestUserTokenRoundTrip(t *testing.T) {
	issuer := testIssuer(time.Hour)
	user := &hub.User{ID: "u-1", Email: "a@example.com", Role: hub.RoleAdmin}

	signed, exp, err := issuer.IssueUserToken(user, "mcp")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, hub.RoleAdmin, claims.Role)
	assert.Empty(t, claims.ClientID)
}

func TestClientTokenHasNoUserSubject(t *testing.T) {
	issuer := testIssuer(time.Hour)

	signed, _, err := issuer.IssueClientToken("cli_abc", "mcp")
	require.NoError(t, err)

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Empty(t, claims.UserID)
	assert.Equal(t, "cli_abc", claims.ClientID)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	issuer := testIssuer(time.Hour)
	user := &hub.User{ID: "u-1", Role: hub.RoleUser}

	signed, _, err := issuer.IssueUserToken(user, "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"tampered", signed + "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := issuer.Verify(tc.token)
			require.Error(t, err)
			assert.Equal(t, hub.KindAuthError, hub.KindOf(err))
		})
	}

	// Token signed under a different secret.
	other, _, err := NewIssuer("other-secret", "https://hub.example", time.Hour).IssueUserToken(user, "")
	require.NoError(t, err)
	_, err = issuer.Verify(other)
	assert.Error(t, err)

	// Token from a different issuer URL.
	foreign, _, err := NewIssuer("test-secret", "https://elsewhere.example", time.Hour).IssueUserToken(user, "")
	require.NoError(t, err)
	_, err = issuer.Verify(foreign)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := testIssuer(-time.Minute)
	signed, _, err := issuer.IssueUserToken(&hub.User{ID: "u-1"}, "")
	require.NoError(t, err)

	_, err = issuer.Verify(signed)
	require.Error(t, err)
}

func TestOpaqueTokens(t *testing.T) {
	a, err := NewOpaque()
	require.NoError(t, err)
	b, err := NewOpaque()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")

	assert.Equal(t, Hash(a), Hash(a))
	assert.NotEqual(t, Hash(a), Hash(b))
	assert.Len(t, Hash(a), 64)
}

func TestNewPAT(t *testing.T) {
	raw, hash, err := NewPAT()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, PATPrefix))
	assert.Equal(t, Hash(raw), hash)
}

func TestNewClientCredentials(t *testing.T) {
	id, secret, err := NewClientCredentials()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "cli_"))
	assert.NotEmpty(t, secret)
}
