package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// Apply brings a postgres database up to the embedded schema version. A
// database that is already current is not an error. The migrator is left
// open on purpose: closing it would also close the shared connection pool.
func Apply(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("nil database handle")
	}

	source, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("prepare postgres driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
