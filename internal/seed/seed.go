// Package seed provisions the initial staff account for fresh installs.
package seed

import (
	"context"
	"errors"

	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	"github.com/hourbill/hourbill/internal/config"
	"go.uber.org/zap"
)

// EnsureBootstrapStaff creates the configured staff login when it does not
// exist yet. Installs without bootstrap configuration are left untouched.
func EnsureBootstrapStaff(ctx context.Context, auth authdomain.Service, cfg config.Config, log *zap.Logger) error {
	if cfg.BootstrapStaffEmail == "" || cfg.BootstrapStaffPassword == "" {
		return nil
	}

	_, err := auth.CreateUser(ctx, authdomain.CreateUserRequest{
		Kind:     authdomain.PrincipalStaff,
		Email:    cfg.BootstrapStaffEmail,
		Password: cfg.BootstrapStaffPassword,
	})
	if err != nil {
		if errors.Is(err, authdomain.ErrUserExists) {
			return nil
		}
		return err
	}

	log.Info("bootstrap staff account created", zap.String("email", cfg.BootstrapStaffEmail))
	return nil
}
