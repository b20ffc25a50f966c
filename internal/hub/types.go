package hub

import "time"

// Role is a user's access role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserStatus is the approval state of a user account.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
	UserStatusRejected UserStatus = "rejected"
)

// AuthType identifies how a provider authenticates.
type AuthType string

const (
	AuthTypeOAuth2   AuthType = "oauth2"
	AuthTypeAPIKey   AuthType = "api_key"
	AuthTypeCustom   AuthType = "custom"
	AuthTypeInternal AuthType = "internal"
)

// User is an account on the hub.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Approved reports whether the user may authenticate at all.
func (u *User) Approved() bool {
	return u.IsActive && u.Status == UserStatusApproved
}

// Connection is a user's authorized link to a provider. Secrets are stored
// as vault ciphertext only; at most one row exists per (user, provider).
type Connection struct {
	ID               string
	UserID           string
	Provider         string
	AuthType         AuthType
	SecretEnc        string
	RefreshSecretEnc string
	ExpiresAt        time.Time
	Scope            string
	MetaJSON         string
	IsEnabled        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OAuthStateKind distinguishes the flows an ephemeral state row can serve.
type OAuthStateKind string

const (
	// StateKindAuthorize is a pending login session on the hub's own
	// authorize endpoint, carrying the client's PKCE challenge.
	StateKindAuthorize OAuthStateKind = "authorize"
	// StateKindCode is an issued authorization code awaiting exchange.
	StateKindCode OAuthStateKind = "code"
	// StateKindConnect is an outbound provider-connect flow.
	StateKindConnect OAuthStateKind = "connect"
)

// OAuthState is an ephemeral record binding a random state value (or
// authorization code) to the initiating user and flow. Rows are consumed
// exactly once and expire on a short TTL.
type OAuthState struct {
	State               string
	Kind                OAuthStateKind
	UserID              string
	Provider            string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// RefreshToken is one link in a token family rooted at a single grant.
// Only the hash of the opaque token is persisted.
type RefreshToken struct {
	ID        string
	FamilyID  string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt time.Time
	RotatedAt time.Time
	CreatedAt time.Time
}

// Active reports whether the token can still be redeemed.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt.IsZero() && t.RotatedAt.IsZero() && now.Before(t.ExpiresAt)
}

// APIClient is a registered OAuth client used for the client_credentials
// grant and dynamic registration. The secret is stored hashed; an encrypted
// copy may be retained so it can be revealed once.
type APIClient struct {
	ID               string
	UserID           string
	ClientID         string
	ClientSecretHash string
	ClientSecretEnc  string
	Name             string
	RedirectURIs     []string
	IsActive         bool
	CreatedAt        time.Time
	LastUsedAt       time.Time
}

// PersonalAccessToken is a long-lived credential whose plaintext is
// returned exactly once at creation.
type PersonalAccessToken struct {
	ID         string
	UserID     string
	TokenHash  string
	Name       string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// AuditEntry is one immutable row of the audit trail.
type AuditEntry struct {
	ID           string
	UserID       string
	Provider     string
	Action       string
	ToolName     string
	RequestJSON  string
	ResponseJSON string
	Status       string
	ErrorText    string
	CreatedAt    time.Time
}

// MemoryItem is one key/value note in the built-in memory provider.
// Keys are unique per user; writes to an existing key replace it.
type MemoryItem struct {
	ID        string
	UserID    string
	Key       string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is the authenticated principal attached to a gateway call.
// Either UserID (JWT, PAT) or ClientID (client_credentials) is set.
type Identity struct {
	UserID   string
	Email    string
	Role     Role
	ClientID string
}

// IsClient reports whether the identity is a machine client with no user.
func (id Identity) IsClient() bool {
	return id.UserID == "" && id.ClientID != ""
}
