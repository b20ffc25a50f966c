// Package token issues and verifies the credentials minted by the hub:
// signed JWT access tokens, opaque refresh tokens and authorization
// codes, client credentials, and personal access tokens. Opaque values
// are stored by hash only; the plaintext leaves this package exactly
// once, at creation time.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mcphub/internal/hub"
)

const (
	// PATPrefix marks personal access tokens so they can be told apart
	// from JWTs in the Authorization header without parsing.
	PATPrefix = "pat_"

	clientIDPrefix = "cli_"
)

// Claims is the verified payload of a hub-issued access token. Exactly
// one of UserID or ClientID is set.
type Claims struct {
	UserID   string
	Email    string
	Role     hub.Role
	ClientID string
	Scope    string
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret    []byte
	issuerURL string
	accessTTL time.Duration
}

// NewIssuer builds an issuer. issuerURL becomes the iss claim and must
// match the value advertised by authorization server discovery.
func NewIssuer(secret, issuerURL string, accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	return &Issuer{
		secret:    []byte(secret),
		issuerURL: issuerURL,
		accessTTL: accessTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueUserToken signs an access token for an interactive user.
func (i *Issuer) IssueUserToken(user *hub.User, scope string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.accessTTL)
	claims := jwt.MapClaims{
		"iss":   i.issuerURL,
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	if scope != "" {
		claims["scope"] = scope
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign user token: %w", err)
	}
	return signed, exp, nil
}

// IssueClientToken signs an access token for a machine client. The
// token carries the client_id and no user subject, so downstream code
// can never mistake a service principal for a person.
func (i *Issuer) IssueClientToken(clientID, scope string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(i.accessTTL)
	claims := jwt.MapClaims{
		"iss":       i.issuerURL,
		"client_id": clientID,
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
	}
	if scope != "" {
		claims["scope"] = scope
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign client token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a signed access token. Expired, malformed,
// or wrongly signed tokens all come back as auth errors with no detail
// leaked to the caller.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuerURL),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}

	claims := &Claims{
		UserID:   stringClaim(mapClaims, "sub"),
		Email:    stringClaim(mapClaims, "email"),
		Role:     hub.Role(stringClaim(mapClaims, "role")),
		ClientID: stringClaim(mapClaims, "client_id"),
		Scope:    stringClaim(mapClaims, "scope"),
	}
	if claims.UserID == "" && claims.ClientID == "" {
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// NewOpaque returns a 32-byte random value in unpadded base64url, the
// shape used for refresh tokens, authorization codes, and states.
func NewOpaque() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex SHA-256 digest of an opaque token. Only hashes
// are persisted so a copied database cannot mint sessions.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewPAT returns a prefixed personal access token and its storage hash.
func NewPAT() (raw string, hash string, err error) {
	opaque, err := NewOpaque()
	if err != nil {
		return "", "", err
	}
	raw = PATPrefix + opaque
	return raw, Hash(raw), nil
}

// NewClientCredentials returns a fresh client_id and client_secret pair
// for dynamic registration.
func NewClientCredentials() (clientID, clientSecret string, err error) {
	idPart := make([]byte, 12)
	if _, err := rand.Read(idPart); err != nil {
		return "", "", fmt.Errorf("generate client id: %w", err)
	}
	clientSecret, err = NewOpaque()
	if err != nil {
		return "", "", err
	}
	return clientIDPrefix + hex.EncodeToString(idPart), clientSecret, nil
}
