package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub/internal/hub"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store) *hub.User {
	t.Helper()
	user := &hub.User{
		ID:           uuid.NewString(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "x",
		Role:         hub.RoleUser,
		Status:       hub.UserStatusApproved,
		IsActive:     true,
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s)

	got, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
	assert.True(t, got.Approved())

	byEmail, err := s.GetUserByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConnectionUniquePerProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	first := &hub.Connection{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Provider:  "slack",
		AuthType:  hub.AuthTypeOAuth2,
		SecretEnc: "cipher-one",
		IsEnabled: true,
	}
	require.NoError(t, s.UpsertConnection(ctx, first))

	// A second upsert for the same provider replaces the secret instead
	// of creating a new row.
	second := &hub.Connection{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Provider:  "slack",
		AuthType:  hub.AuthTypeOAuth2,
		SecretEnc: "cipher-two",
		IsEnabled: true,
	}
	require.NoError(t, s.UpsertConnection(ctx, second))

	conns, err := s.ListConnections(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "cipher-two", conns[0].SecretEnc)
	assert.Equal(t, first.ID, conns[0].ID)
}

func TestConnectionDisableKeepsCiphertext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	conn := &hub.Connection{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Provider:  "figma",
		AuthType:  hub.AuthTypeAPIKey,
		SecretEnc: "cipher",
		IsEnabled: true,
	}
	require.NoError(t, s.UpsertConnection(ctx, conn))
	require.NoError(t, s.SetConnectionEnabled(ctx, user.ID, "figma", false))

	got, err := s.GetConnection(ctx, user.ID, "figma")
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
	assert.Equal(t, "cipher", got.SecretEnc)

	require.NoError(t, s.DeleteConnection(ctx, user.ID, "figma"))
	_, err = s.GetConnection(ctx, user.ID, "figma")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthStateConsumeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	state := &hub.OAuthState{
		State:               uuid.NewString(),
		Kind:                hub.StateKindCode,
		UserID:              user.ID,
		ClientID:            "client-1",
		RedirectURI:         "https://client.example/cb",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.PutOAuthState(ctx, state))

	got, err := s.ConsumeOAuthState(ctx, state.State, hub.StateKindCode)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)
	assert.Equal(t, "challenge", got.CodeChallenge)

	// Second redemption must fail: the row is gone.
	_, err = s.ConsumeOAuthState(ctx, state.State, hub.StateKindCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthStateWrongKindRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &hub.OAuthState{
		State:     uuid.NewString(),
		Kind:      hub.StateKindConnect,
		Provider:  "slack",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.PutOAuthState(ctx, state))

	_, err := s.ConsumeOAuthState(ctx, state.State, hub.StateKindCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOAuthStateExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &hub.OAuthState{
		State:     uuid.NewString(),
		Kind:      hub.StateKindAuthorize,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.PutOAuthState(ctx, state))

	_, err := s.ConsumeOAuthState(ctx, state.State, hub.StateKindAuthorize)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newRefreshToken(userID, hash string) *hub.RefreshToken {
	return &hub.RefreshToken{
		ID:        uuid.NewString(),
		FamilyID:  uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	root := newRefreshToken(user.ID, "hash-1")
	require.NoError(t, s.CreateRefreshToken(ctx, root))

	next := &hub.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: "hash-2",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	redeemed, err := s.RotateRefreshToken(ctx, "hash-1", next)
	require.NoError(t, err)
	assert.Equal(t, root.ID, redeemed.ID)
	assert.Equal(t, root.FamilyID, next.FamilyID)
	assert.Equal(t, user.ID, next.UserID)

	successor, err := s.GetRefreshTokenByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.True(t, successor.Active(time.Now()))
}

func TestRefreshTokenReuseRevokesFamily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	root := newRefreshToken(user.ID, "hash-1")
	require.NoError(t, s.CreateRefreshToken(ctx, root))

	next := &hub.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: "hash-2",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	_, err := s.RotateRefreshToken(ctx, "hash-1", next)
	require.NoError(t, err)

	// Replaying the already-rotated token is treated as theft and kills
	// the whole family, including the fresh successor.
	again := &hub.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: "hash-3",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	_, err = s.RotateRefreshToken(ctx, "hash-1", again)
	assert.ErrorIs(t, err, ErrTokenReused)

	successor, err := s.GetRefreshTokenByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.False(t, successor.Active(time.Now()))

	_, err = s.RotateRefreshToken(ctx, "hash-2", &hub.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: "hash-4",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrTokenReused)
}

func TestRefreshTokenExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	stale := newRefreshToken(user.ID, "hash-old")
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.CreateRefreshToken(ctx, stale))

	_, err := s.RotateRefreshToken(ctx, "hash-old", &hub.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: "hash-new",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIClients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	client := &hub.APIClient{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		ClientID:         "cli_abc",
		ClientSecretHash: "secret-hash",
		Name:             "ci-bot",
		RedirectURIs:     []string{"https://client.example/cb"},
		IsActive:         true,
	}
	require.NoError(t, s.CreateAPIClient(ctx, client))

	got, err := s.GetAPIClient(ctx, "cli_abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://client.example/cb"}, got.RedirectURIs)
	assert.True(t, got.IsActive)

	require.NoError(t, s.DeactivateAPIClient(ctx, "cli_abc"))
	got, err = s.GetAPIClient(ctx, "cli_abc")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestPersonalAccessTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	pat := &hub.PersonalAccessToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: "pat-hash",
		Name:      "laptop",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, s.CreatePAT(ctx, pat))

	got, err := s.GetPATByHash(ctx, "pat-hash")
	require.NoError(t, err)
	assert.Equal(t, pat.ID, got.ID)
	assert.True(t, got.LastUsedAt.IsZero())

	require.NoError(t, s.TouchPAT(ctx, pat.ID))
	got, err = s.GetPATByHash(ctx, "pat-hash")
	require.NoError(t, err)
	assert.False(t, got.LastUsedAt.IsZero())

	require.NoError(t, s.DeletePAT(ctx, user.ID, pat.ID))
	_, err = s.GetPATByHash(ctx, "pat-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	item := &hub.MemoryItem{
		ID:      uuid.NewString(),
		UserID:  user.ID,
		Key:     "favorite-editor",
		Content: "helix",
	}
	require.NoError(t, s.UpsertMemoryItem(ctx, item))

	// Same key overwrites.
	require.NoError(t, s.UpsertMemoryItem(ctx, &hub.MemoryItem{
		ID:      uuid.NewString(),
		UserID:  user.ID,
		Key:     "favorite-editor",
		Content: "vim",
	}))

	got, err := s.GetMemoryItem(ctx, user.ID, "favorite-editor")
	require.NoError(t, err)
	assert.Equal(t, "vim", got.Content)
	assert.Equal(t, item.ID, got.ID)

	require.NoError(t, s.UpsertMemoryItem(ctx, &hub.MemoryItem{
		ID:      uuid.NewString(),
		UserID:  user.ID,
		Key:     "deploy-notes",
		Content: "always run migrations first",
	}))

	found, err := s.SearchMemoryItems(ctx, user.ID, "migrations", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "deploy-notes", found[0].Key)

	all, err := s.ListMemoryItems(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteMemoryItem(ctx, user.ID, "deploy-notes"))
	_, err = s.GetMemoryItem(ctx, user.ID, "deploy-notes")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditEntriesAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	for i, status := range []string{"success", "error"} {
		require.NoError(t, s.AppendAuditEntry(ctx, &hub.AuditEntry{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Provider:  "slack",
			Action:    "tools/call",
			ToolName:  "slack_post_message",
			Status:    status,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	entries, err := s.ListAuditEntries(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "error", entries[0].Status)
}
