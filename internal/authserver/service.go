// Package authserver implements the hub's own OAuth 2.0 authorization
// server: RFC 8414 discovery, RFC 7591 dynamic client registration, the
// PKCE authorization-code flow, refresh-token rotation with family
// revocation, and the client-credentials grant.
package authserver

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mcphub/internal/hub"
	"mcphub/internal/store"
	"mcphub/internal/token"
	"mcphub/internal/vault"
	"mcphub/pkg/logging"
)

// OAuth protocol error codes returned by the token endpoint.
var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
)

// Service implements the authorization server operations over the store.
type Service struct {
	store      *store.Store
	vault      *vault.Vault
	issuer     *token.Issuer
	issuerURL  string
	stateTTL   time.Duration
	refreshTTL time.Duration
}

// NewService wires the authorization server.
func NewService(s *store.Store, v *vault.Vault, issuer *token.Issuer, issuerURL string, stateTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      s,
		vault:      v,
		issuer:     issuer,
		issuerURL:  issuerURL,
		stateTTL:   stateTTL,
		refreshTTL: refreshTTL,
	}
}

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RegistrationRequest is the RFC 7591 request subset the hub accepts.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// RegistrationResponse returns the newly minted credentials. The secret
// plaintext appears here exactly once.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
}

// RegisterClient mints a client_id/client_secret pair. The secret is
// stored hashed, plus encrypted so it can be shown once later; the
// response carries the only plaintext copy handed out.
func (s *Service) RegisterClient(ctx context.Context, req RegistrationRequest) (*RegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, fmt.Errorf("%w: redirect_uris is required", ErrInvalidRequest)
	}
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%w: redirect_uris must be absolute URLs", ErrInvalidRequest)
		}
	}

	clientID, clientSecret, err := token.NewClientCredentials()
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	secretEnc, err := s.vault.Encrypt(clientSecret)
	if err != nil {
		return nil, hub.NewInternalError(err)
	}

	client := &hub.APIClient{
		ID:               uuid.NewString(),
		ClientID:         clientID,
		ClientSecretHash: token.Hash(clientSecret),
		ClientSecretEnc:  secretEnc,
		Name:             req.ClientName,
		RedirectURIs:     req.RedirectURIs,
		IsActive:         true,
	}
	if err := s.store.CreateAPIClient(ctx, client); err != nil {
		return nil, hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:   "oauth.client.registered",
		Outcome:  "success",
		ClientID: clientID,
		Detail:   req.ClientName,
	})
	return &RegistrationResponse{
		ClientID:                clientID,
		ClientSecret:            clientSecret,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token", "client_credentials"},
		TokenEndpointAuthMethod: "client_secret_post",
		ClientIDIssuedAt:        time.Now().Unix(),
	}, nil
}

// AuthenticateUser checks a login form submission: bcrypt password
// comparison plus approval gating. Failures share one message so the
// form leaks nothing about which part failed.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*hub.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		// Burn comparable time so user enumeration via latency is harder.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uGZv7zXqYBvZPS9XW9wS3u6G0iW6y2e"), []byte(password))
		return nil, hub.NewAuthenticationError("invalid email or password")
	}
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, hub.NewAuthenticationError("invalid email or password")
	}
	if !user.Approved() {
		return nil, hub.NewAuthorizationError("account is not approved")
	}
	return user, nil
}

// AuthorizeRequest is a validated authorize-endpoint request.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizeRequest checks the query half of the authorize flow:
// a registered, active client, a registered redirect URI, and an S256
// PKCE challenge. Plain PKCE is rejected outright.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, responseType string, req AuthorizeRequest) error {
	if responseType != "code" {
		return fmt.Errorf("%w: response_type must be code", ErrInvalidRequest)
	}
	if req.CodeChallenge == "" {
		return fmt.Errorf("%w: code_challenge is required", ErrInvalidRequest)
	}
	if req.CodeChallengeMethod != "S256" {
		return fmt.Errorf("%w: code_challenge_method must be S256", ErrInvalidRequest)
	}

	client, err := s.store.GetAPIClient(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}
	if err != nil {
		return hub.NewInternalError(err)
	}
	if !client.IsActive {
		return fmt.Errorf("%w: client is disabled", ErrInvalidClient)
	}
	if !redirectURIRegistered(client, req.RedirectURI) {
		return fmt.Errorf("%w: redirect_uri is not registered", ErrInvalidRequest)
	}
	return nil
}

func redirectURIRegistered(client *hub.APIClient, redirectURI string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return true
		}
	}
	return false
}

// BeginAuthorizeSession records a pending login on the authorize
// endpoint. The returned session value goes into the login form and is
// consumed exactly once on submit, so a submitted form must originate
// from a rendered page within the state TTL.
func (s *Service) BeginAuthorizeSession(ctx context.Context, req AuthorizeRequest) (string, error) {
	session, err := token.NewOpaque()
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	now := time.Now()
	err = s.store.PutOAuthState(ctx, &hub.OAuthState{
		State:       session,
		Kind:        hub.StateKindAuthorize,
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.stateTTL),
	})
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	return session, nil
}

// ConsumeAuthorizeSession redeems a login session. It fails when the
// session is unknown, expired, already used, or bound to a different
// client or redirect URI than the submitted form claims.
func (s *Service) ConsumeAuthorizeSession(ctx context.Context, session string, req AuthorizeRequest) error {
	state, err := s.store.ConsumeOAuthState(ctx, session, hub.StateKindAuthorize)
	if errors.Is(err, store.ErrNotFound) {
		return hub.NewAuthenticationError("login session expired, please try again")
	}
	if err != nil {
		return hub.NewInternalError(err)
	}
	if state.ClientID != req.ClientID || state.RedirectURI != req.RedirectURI {
		return hub.NewAuthenticationError("login session does not match the request")
	}
	return nil
}

// IssueAuthorizationCode binds a fresh code to the authenticated user,
// the client, and the PKCE challenge, with a short TTL.
func (s *Service) IssueAuthorizationCode(ctx context.Context, user *hub.User, req AuthorizeRequest) (string, error) {
	code, err := token.NewOpaque()
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	now := time.Now()
	err = s.store.PutOAuthState(ctx, &hub.OAuthState{
		State:               code,
		Kind:                hub.StateKindCode,
		UserID:              user.ID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.stateTTL),
	})
	if err != nil {
		return "", hub.NewInternalError(err)
	}
	return code, nil
}

// ExchangeCode redeems an authorization code. The code row is consumed
// atomically, so a second exchange of the same code always fails, and a
// consumed code stays burned even when PKCE verification then fails.
func (s *Service) ExchangeCode(ctx context.Context, clientID, code, codeVerifier, redirectURI string) (*TokenResponse, error) {
	if code == "" || codeVerifier == "" {
		return nil, fmt.Errorf("%w: code and code_verifier are required", ErrInvalidRequest)
	}

	state, err := s.store.ConsumeOAuthState(ctx, code, hub.StateKindCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown, expired, or already used code", ErrInvalidGrant)
	}
	if err != nil {
		return nil, hub.NewInternalError(err)
	}

	if state.ClientID != clientID {
		return nil, fmt.Errorf("%w: code was issued to a different client", ErrInvalidGrant)
	}
	if state.RedirectURI != redirectURI {
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	}
	if !verifyPKCE(codeVerifier, state.CodeChallenge) {
		logging.Audit(logging.AuditEvent{
			Action:   "oauth.pkce.failed",
			Outcome:  "failure",
			UserID:   state.UserID,
			ClientID: clientID,
		})
		return nil, fmt.Errorf("%w: PKCE verification failed", ErrInvalidGrant)
	}

	user, err := s.store.GetUser(ctx, state.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidGrant)
	}
	if !user.Approved() {
		return nil, fmt.Errorf("%w: account is not approved", ErrInvalidGrant)
	}

	// A fresh grant roots a new refresh-token family.
	return s.issueUserTokens(ctx, user, state.Scope, uuid.NewString())
}

// verifyPKCE checks SHA256(verifier) against the stored S256 challenge.
func verifyPKCE(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func (s *Service) issueUserTokens(ctx context.Context, user *hub.User, scope, familyID string) (*TokenResponse, error) {
	access, expiry, err := s.issuer.IssueUserToken(user, scope)
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	refreshRaw, err := token.NewOpaque()
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	now := time.Now()
	err = s.store.CreateRefreshToken(ctx, &hub.RefreshToken{
		ID:        uuid.NewString(),
		FamilyID:  familyID,
		UserID:    user.ID,
		TokenHash: token.Hash(refreshRaw),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(expiry).Seconds()),
		RefreshToken: refreshRaw,
		Scope:        scope,
	}, nil
}

// RefreshGrant rotates a refresh token. Presenting a stale token is a
// theft signal: the whole family is revoked and the grant fails.
func (s *Service) RefreshGrant(ctx context.Context, refreshRaw string) (*TokenResponse, error) {
	if refreshRaw == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}

	nextRaw, err := token.NewOpaque()
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	now := time.Now()
	next := &hub.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: token.Hash(nextRaw),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}

	redeemed, err := s.store.RotateRefreshToken(ctx, token.Hash(refreshRaw), next)
	if errors.Is(err, store.ErrTokenReused) {
		logging.Audit(logging.AuditEvent{
			Action:  "oauth.refresh.reuse_detected",
			Outcome: "failure",
			UserID:  redeemed.UserID,
			Detail:  "token family revoked",
		})
		return nil, fmt.Errorf("%w: refresh token reuse detected", ErrInvalidGrant)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown or expired refresh token", ErrInvalidGrant)
	}
	if err != nil {
		return nil, hub.NewInternalError(err)
	}

	user, err := s.store.GetUser(ctx, redeemed.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidGrant)
	}
	if !user.Approved() {
		return nil, fmt.Errorf("%w: account is not approved", ErrInvalidGrant)
	}

	access, expiry, err := s.issuer.IssueUserToken(user, "")
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(expiry).Seconds()),
		RefreshToken: nextRaw,
	}, nil
}

// RevokeToken takes a refresh token presented to the revocation endpoint
// out of service along with its whole family. Unknown or already-revoked
// tokens succeed silently, so the endpoint confirms nothing about which
// tokens exist.
func (s *Service) RevokeToken(ctx context.Context, refreshRaw string) error {
	if refreshRaw == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}

	redeemed, err := s.store.GetRefreshTokenByHash(ctx, token.Hash(refreshRaw))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return hub.NewInternalError(err)
	}
	if err := s.store.RevokeRefreshTokenFamily(ctx, redeemed.FamilyID); err != nil {
		return hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "oauth.token.revoked",
		Outcome: "success",
		UserID:  redeemed.UserID,
		Detail:  "token family revoked",
	})
	return nil
}

// ClientCredentialsGrant authenticates a machine client and issues a
// client-scoped access token with no refresh token and no user subject.
func (s *Service) ClientCredentialsGrant(ctx context.Context, clientID, clientSecret, scope string) (*TokenResponse, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: client credentials are required", ErrInvalidClient)
	}

	client, err := s.store.GetAPIClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	if !client.IsActive {
		return nil, fmt.Errorf("%w: client is disabled", ErrInvalidClient)
	}
	presented := token.Hash(clientSecret)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(client.ClientSecretHash)) != 1 {
		return nil, fmt.Errorf("%w: bad client secret", ErrInvalidClient)
	}

	access, expiry, err := s.issuer.IssueClientToken(clientID, scope)
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	go func() {
		// Off the request path; a failed touch is harmless.
		if err := s.store.TouchAPIClient(context.Background(), clientID); err != nil {
			logging.Debug("AuthServer", "Touch client %s failed: %v", clientID, err)
		}
	}()

	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiry).Seconds()),
		Scope:       scope,
	}, nil
}

// VerifyAccessToken resolves a bearer JWT to an identity.
func (s *Service) VerifyAccessToken(tokenString string) (*hub.Identity, error) {
	claims, err := s.issuer.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return &hub.Identity{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Role:     claims.Role,
		ClientID: claims.ClientID,
	}, nil
}
