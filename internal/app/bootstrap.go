package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// bootstrapAdmin creates the first admin account when the user table is
// empty and credentials are configured. An existing account is never
// touched, so rotating HUB_ADMIN_PASSWORD requires going through the
// normal password flow.
func (a *Application) bootstrapAdmin(ctx context.Context) error {
	if a.cfg.AdminEmail == "" {
		return nil
	}

	count, err := a.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		logging.Debug("App", "Users already exist, skipping admin bootstrap")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(a.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}

	admin := &hub.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(a.cfg.AdminEmail)),
		PasswordHash: string(hash),
		Role:         hub.RoleAdmin,
		Status:       hub.UserStatusApproved,
		IsActive:     true,
	}
	if err := a.store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	logging.Info("App", "Bootstrapped admin account %s", admin.Email)
	logging.Audit(logging.AuditEvent{
		Action:  "user.bootstrapped",
		Outcome: "success",
		UserID:  admin.ID,
		Detail:  "initial admin account",
	})
	return nil
}
