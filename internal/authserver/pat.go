package authserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mcphub/internal/hub"
	"mcphub/internal/store"
	"mcphub/internal/token"
	"mcphub/pkg/logging"
)

const (
	minPATLifetime = 30 * 24 * time.Hour
	maxPATLifetime = 365 * 24 * time.Hour
)

// CreatePAT mints a personal access token for a user. The plaintext is
// returned exactly once; only its hash is persisted.
func (s *Service) CreatePAT(ctx context.Context, userID, name string, lifetime time.Duration) (string, *hub.PersonalAccessToken, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil, hub.NewValidationError("token name is required")
	}
	if lifetime < minPATLifetime || lifetime > maxPATLifetime {
		return "", nil, hub.NewValidationError(fmt.Sprintf(
			"token lifetime must be between %d and %d days",
			int(minPATLifetime.Hours()/24), int(maxPATLifetime.Hours()/24)))
	}

	raw, hash, err := token.NewPAT()
	if err != nil {
		return "", nil, hub.NewInternalError(err)
	}
	now := time.Now()
	pat := &hub.PersonalAccessToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		Name:      name,
		ExpiresAt: now.Add(lifetime),
		CreatedAt: now,
	}
	if err := s.store.CreatePAT(ctx, pat); err != nil {
		return "", nil, hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "pat.created",
		Outcome: "success",
		UserID:  userID,
		Detail:  name,
	})
	return raw, pat, nil
}

// ValidatePAT resolves a "pat_" bearer credential to an identity. A hit
// touches last_used_at off the request path.
func (s *Service) ValidatePAT(ctx context.Context, raw string) (*hub.Identity, error) {
	if !strings.HasPrefix(raw, token.PATPrefix) {
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}

	pat, err := s.store.GetPATByHash(ctx, token.Hash(raw))
	if errors.Is(err, store.ErrNotFound) {
		logging.Debug("AuthServer", "Unknown personal access token %s", logging.TruncateToken(raw))
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}
	if err != nil {
		return nil, hub.NewInternalError(err)
	}
	if time.Now().After(pat.ExpiresAt) {
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}

	user, err := s.store.GetUser(ctx, pat.UserID)
	if err != nil {
		return nil, hub.NewAuthenticationError("invalid or expired token")
	}
	if !user.Approved() {
		return nil, hub.NewAuthorizationError("account is not approved")
	}

	go func() {
		if err := s.store.TouchPAT(context.Background(), pat.ID); err != nil {
			logging.Debug("AuthServer", "Touch PAT %s failed: %v", pat.ID, err)
		}
	}()

	return &hub.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// RevokePAT deletes a user's token by id.
func (s *Service) RevokePAT(ctx context.Context, userID, id string) error {
	if err := s.store.DeletePAT(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return hub.NewValidationError("unknown token")
		}
		return hub.NewInternalError(err)
	}
	logging.Audit(logging.AuditEvent{
		Action:  "pat.revoked",
		Outcome: "success",
		UserID:  userID,
		Target:  id,
	})
	return nil
}
