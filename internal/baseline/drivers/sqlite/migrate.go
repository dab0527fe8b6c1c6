package sqlite

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/lockstep/internal/baseline/drivers/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

type migrateDirection int

const (
	migrateUp migrateDirection = iota
	migrateDown
)

// migrate runs the embedded migrations in the given direction. Up creates
// the namespace, Down destroys it; both are no-ops when there is nothing to
// change.
func (s *Store) migrate(dir migrateDirection) error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}

	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return fmt.Errorf("sqlite: migration source: %w", err)
	}

	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return fmt.Errorf("sqlite: migrate instance: %w", err)
	}

	if dir == migrateUp {
		err = instance.Up()
	} else {
		err = instance.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}

	return nil
}
