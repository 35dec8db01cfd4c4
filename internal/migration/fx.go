package migration

import (
	"context"

	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	"github.com/hourbill/hourbill/internal/config"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	"github.com/hourbill/hourbill/internal/seed"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"go.uber.org/zap"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, auth authdomain.Service, log *zap.Logger) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := Apply(sqlDB); err != nil {
				return err
			}
		} else {
			// SQL migrations target postgres; other dialects build the
			// schema from the models.
			if err := conn.AutoMigrate(
				&directorydomain.Client{},
				&directorydomain.Project{},
				&authdomain.User{},
				&authdomain.Session{},
				&invoicedomain.Invoice{},
				&timeentrydomain.TimeEntry{},
				&invoicedomain.LineItem{},
				&resourcedomain.EntryResource{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureBootstrapStaff(context.Background(), auth, cfg, log)
	}),
)
