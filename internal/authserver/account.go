package authserver

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"mcphub/internal/hub"
	"mcphub/internal/store"
	"mcphub/pkg/logging"
)

const minPasswordLength = 8

// ChangePassword verifies the current password, stores the new hash, and
// revokes every active refresh token of the user so stolen refresh
// tokens die with the old password. Access tokens already issued run out
// their short expiry.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < minPasswordLength {
		return hub.NewValidationError("password must be at least 8 characters")
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return hub.NewAuthenticationError("unknown account")
	}
	if err != nil {
		return hub.NewInternalError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return hub.NewAuthenticationError("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return hub.NewInternalError(err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return hub.NewInternalError(err)
	}
	if err := s.store.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "user.password_changed",
		Outcome: "success",
		UserID:  userID,
		Detail:  "refresh tokens revoked",
	})
	return nil
}

// DeleteAccount removes the user together with every owned row:
// connections, refresh tokens, PATs, and memory items cascade in the
// store.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return hub.NewAuthenticationError("unknown account")
		}
		return hub.NewInternalError(err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "user.deleted",
		Outcome: "success",
		UserID:  userID,
	})
	return nil
}
