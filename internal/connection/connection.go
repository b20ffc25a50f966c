// Package connection manages per-user provider credentials behind a
// uniform interface: OAuth providers go through the authorize/callback
// flow with lazy refresh, API-key providers store an encrypted key
// directly. All secret material is vault ciphertext at rest.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mcphub/internal/config"
	"mcphub/internal/hub"
	"mcphub/internal/provider"
	"mcphub/internal/store"
	"mcphub/internal/token"
	"mcphub/internal/vault"
	"mcphub/pkg/logging"
)

// expirySkew is how long before the recorded expiry a credential is
// treated as stale. Refreshing early avoids races where the token dies
// mid-flight to the provider.
const expirySkew = 5 * time.Minute

// refreshTimeout bounds one coalesced upstream refresh. The refresh runs
// detached from the winning caller's context, so it needs its own
// deadline.
const refreshTimeout = 30 * time.Second

// Registry is the per-user connection state machine.
type Registry struct {
	store     *store.Store
	vault     *vault.Vault
	providers *provider.Registry
	creds     *config.ProviderRegistry
	publicURL string
	stateTTL  time.Duration

	// refreshGroup coalesces concurrent refreshes per (user, provider):
	// duplicate upstream refresh calls can invalidate each other.
	refreshGroup singleflight.Group
}

// NewRegistry wires the connection registry.
func NewRegistry(s *store.Store, v *vault.Vault, providers *provider.Registry, creds *config.ProviderRegistry, publicURL string, stateTTL time.Duration) *Registry {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &Registry{
		store:     s,
		vault:     v,
		providers: providers,
		creds:     creds,
		publicURL: publicURL,
		stateTTL:  stateTTL,
	}
}

func (r *Registry) oauthProvider(name string) (provider.OAuthProvider, error) {
	p, ok := r.providers.Get(name)
	if !ok {
		return nil, hub.NewValidationError(fmt.Sprintf("unknown provider %q", name))
	}
	op, ok := p.(provider.OAuthProvider)
	if !ok {
		return nil, hub.NewValidationError(fmt.Sprintf("provider %q does not use OAuth", name))
	}
	return op, nil
}

func (r *Registry) oauthConfig(op provider.OAuthProvider) (*oauth2.Config, error) {
	creds, ok := r.creds.Credentials(op.Name())
	if !ok {
		return nil, hub.NewValidationError(fmt.Sprintf("provider %q is not configured", op.Name()))
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = op.DefaultScopes()
	}
	endpoint := op.Endpoint()
	if creds.AuthURL != "" {
		endpoint.AuthURL = creds.AuthURL
	}
	if creds.TokenURL != "" {
		endpoint.TokenURL = creds.TokenURL
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
		RedirectURL:  fmt.Sprintf("%s/integrations/%s/callback", r.publicURL, op.Name()),
	}, nil
}

// StartAuthorization begins the provider-connect flow for a user and
// returns the upstream authorize URL to redirect to. The random state is
// persisted with a short TTL and consumed exactly once at the callback.
func (r *Registry) StartAuthorization(ctx context.Context, userID, providerName string) (string, error) {
	op, err := r.oauthProvider(providerName)
	if err != nil {
		return "", err
	}
	cfg, err := r.oauthConfig(op)
	if err != nil {
		return "", err
	}

	state, err := token.NewOpaque()
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	now := time.Now()
	err = r.store.PutOAuthState(ctx, &hub.OAuthState{
		State:     state,
		Kind:      hub.StateKindConnect,
		UserID:    userID,
		Provider:  providerName,
		CreatedAt: now,
		ExpiresAt: now.Add(r.stateTTL),
	})
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// CompleteAuthorization consumes the callback state, exchanges the code
// upstream, and stores the encrypted connection. A stale or replayed
// state fails authentication.
func (r *Registry) CompleteAuthorization(ctx context.Context, stateValue, code string) (*hub.Connection, error) {
	state, err := r.store.ConsumeOAuthState(ctx, stateValue, hub.StateKindConnect)
	if errors.Is(err, store.ErrNotFound) {
		return nil, hub.NewAuthenticationError("invalid or expired authorization state")
	}
	if err != nil {
		return nil, hub.NewInternalError(err)
	}

	op, err := r.oauthProvider(state.Provider)
	if err != nil {
		return nil, err
	}
	cfg, err := r.oauthConfig(op)
	if err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		logging.Warn("Connection", "Code exchange with %s failed for user %s: %v", state.Provider, state.UserID, err)
		return nil, hub.NewProviderError(state.Provider, 0, errors.New("authorization code exchange failed"))
	}
	grant, err := op.ConnectionGrant(ctx, tok)
	if err != nil {
		return nil, err
	}
	return r.storeGrant(ctx, state.UserID, op.Name(), hub.AuthTypeOAuth2, grant)
}

// StoreAPIKey stores a non-OAuth credential (API key, bot token, signed
// key material) for a provider that authenticates statically.
func (r *Registry) StoreAPIKey(ctx context.Context, userID, providerName, secret string) (*hub.Connection, error) {
	p, ok := r.providers.Get(providerName)
	if !ok {
		return nil, hub.NewValidationError(fmt.Sprintf("unknown provider %q", providerName))
	}
	switch p.AuthType() {
	case hub.AuthTypeAPIKey, hub.AuthTypeCustom:
	default:
		return nil, hub.NewValidationError(fmt.Sprintf("provider %q does not accept an API key", providerName))
	}
	if secret == "" {
		return nil, hub.NewValidationError("secret must not be empty")
	}
	return r.storeGrant(ctx, userID, providerName, p.AuthType(), provider.Grant{Secret: secret, MetaJSON: "{}"})
}

func (r *Registry) storeGrant(ctx context.Context, userID, providerName string, authType hub.AuthType, grant provider.Grant) (*hub.Connection, error) {
	secretEnc, err := r.vault.Encrypt(grant.Secret)
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	var refreshEnc string
	if grant.RefreshSecret != "" {
		if refreshEnc, err = r.vault.Encrypt(grant.RefreshSecret); err != nil {
			return nil, hub.NewInternalError(err)
		}
	}

	conn := &hub.Connection{
		ID:               uuid.NewString(),
		UserID:           userID,
		Provider:         providerName,
		AuthType:         authType,
		SecretEnc:        secretEnc,
		RefreshSecretEnc: refreshEnc,
		ExpiresAt:        grant.ExpiresAt,
		MetaJSON:         grant.MetaJSON,
		IsEnabled:        true,
	}
	if err := r.store.UpsertConnection(ctx, conn); err != nil {
		return nil, hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "connection.authorized",
		Outcome: "success",
		UserID:  userID,
		Target:  providerName,
	})
	return conn, nil
}

// EnsureValid returns a decrypted, usable credential for (user, provider),
// refreshing lazily when the stored secret is at or near expiry. It
// never makes an upstream call when no enabled connection exists.
func (r *Registry) EnsureValid(ctx context.Context, userID, providerName string) (provider.Credential, error) {
	p, ok := r.providers.Get(providerName)
	if !ok {
		return provider.Credential{}, hub.NewValidationError(fmt.Sprintf("unknown provider %q", providerName))
	}
	// The internal memory provider is always connected; the credential
	// is the caller's own user scope.
	if p.AuthType() == hub.AuthTypeInternal {
		return provider.Credential{Secret: vault.NewRedactedToken(userID)}, nil
	}

	conn, err := r.store.GetConnection(ctx, userID, providerName)
	if errors.Is(err, store.ErrNotFound) {
		return provider.Credential{}, hub.NewNotConnectedError(providerName)
	}
	if err != nil {
		return provider.Credential{}, hub.NewInternalError(err)
	}
	if !conn.IsEnabled {
		return provider.Credential{}, hub.NewNotConnectedError(providerName)
	}

	if !r.needsRefresh(conn) {
		secret, err := r.vault.Decrypt(conn.SecretEnc)
		if err != nil {
			return provider.Credential{}, hub.NewInternalError(err)
		}
		return provider.Credential{Secret: vault.NewRedactedToken(secret), Meta: conn.MetaJSON}, nil
	}

	// Coalesce concurrent refreshes: every waiter shares the one
	// in-flight upstream call and its result. The refresh runs on a
	// detached context so the winning caller's cancellation cannot fail
	// the waiters riding along.
	key := userID + "|" + providerName
	result, err, _ := r.refreshGroup.Do(key, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return r.refresh(refreshCtx, userID, providerName)
	})
	if err != nil {
		return provider.Credential{}, err
	}
	return result.(provider.Credential), nil
}

func (r *Registry) needsRefresh(conn *hub.Connection) bool {
	if conn.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(expirySkew).After(conn.ExpiresAt)
}

// refresh re-reads the connection and performs one upstream refresh.
// Re-reading matters: a coalesced waiter may arrive after another
// process already rotated the secret.
func (r *Registry) refresh(ctx context.Context, userID, providerName string) (provider.Credential, error) {
	conn, err := r.store.GetConnection(ctx, userID, providerName)
	if errors.Is(err, store.ErrNotFound) {
		return provider.Credential{}, hub.NewNotConnectedError(providerName)
	}
	if err != nil {
		return provider.Credential{}, hub.NewInternalError(err)
	}
	if !conn.IsEnabled {
		return provider.Credential{}, hub.NewNotConnectedError(providerName)
	}
	if !r.needsRefresh(conn) {
		secret, err := r.vault.Decrypt(conn.SecretEnc)
		if err != nil {
			return provider.Credential{}, hub.NewInternalError(err)
		}
		return provider.Credential{Secret: vault.NewRedactedToken(secret), Meta: conn.MetaJSON}, nil
	}

	if conn.RefreshSecretEnc == "" {
		return provider.Credential{}, hub.NewTokenExpiredError(providerName, errors.New("no refresh secret stored"))
	}
	op, err := r.oauthProvider(providerName)
	if err != nil {
		return provider.Credential{}, hub.NewTokenExpiredError(providerName, err)
	}
	cfg, err := r.oauthConfig(op)
	if err != nil {
		return provider.Credential{}, hub.NewTokenExpiredError(providerName, err)
	}
	refreshSecret, err := r.vault.Decrypt(conn.RefreshSecretEnc)
	if err != nil {
		return provider.Credential{}, hub.NewInternalError(err)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshSecret}).Token()
	if err != nil {
		logging.Warn("Connection", "Refresh with %s failed for user %s: %v", providerName, userID, err)
		return provider.Credential{}, hub.NewTokenExpiredError(providerName, errors.New("upstream refresh rejected"))
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		// Providers that do not rotate refresh tokens return none.
		newRefresh = refreshSecret
	}
	secretEnc, err := r.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return provider.Credential{}, hub.NewInternalError(err)
	}
	refreshEnc, err := r.vault.Encrypt(newRefresh)
	if err != nil {
		return provider.Credential{}, hub.NewInternalError(err)
	}
	if err := r.store.UpdateConnectionSecrets(ctx, conn.ID, secretEnc, refreshEnc, tok.Expiry); err != nil {
		return provider.Credential{}, hub.NewInternalError(err)
	}

	logging.Debug("Connection", "Refreshed %s credential for user %s", providerName, userID)
	return provider.Credential{Secret: vault.NewRedactedToken(tok.AccessToken), Meta: conn.MetaJSON}, nil
}

// Disconnect removes a connection. Soft disconnect flips is_enabled and
// keeps the ciphertext for a later re-enable; hard disconnect deletes
// the row.
func (r *Registry) Disconnect(ctx context.Context, userID, providerName string, hard bool) error {
	var err error
	if hard {
		err = r.store.DeleteConnection(ctx, userID, providerName)
	} else {
		err = r.store.SetConnectionEnabled(ctx, userID, providerName, false)
	}
	if errors.Is(err, store.ErrNotFound) {
		return hub.NewNotConnectedError(providerName)
	}
	if err != nil {
		return hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "connection.disconnected",
		Outcome: "success",
		UserID:  userID,
		Target:  providerName,
	})
	return nil
}

// Reconnect re-enables a soft-disabled connection.
func (r *Registry) Reconnect(ctx context.Context, userID, providerName string) error {
	err := r.store.SetConnectionEnabled(ctx, userID, providerName, true)
	if errors.Is(err, store.ErrNotFound) {
		return hub.NewNotConnectedError(providerName)
	}
	if err != nil {
		return hub.NewInternalError(err)
	}
	return nil
}

// List returns the user's connections with secrets stripped.
func (r *Registry) List(ctx context.Context, userID string) ([]*hub.Connection, error) {
	conns, err := r.store.ListConnections(ctx, userID)
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	for _, c := range conns {
		c.SecretEnc = ""
		c.RefreshSecretEnc = ""
	}
	return conns, nil
}
