package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

func (s *Storage) migrate() error {
	var (
		dir    string
		target database.Driver
		err    error
	)
	switch s.driver {
	case DriverSQLite:
		dir = "migrations/sqlite3"
		target, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	case DriverPostgres:
		dir = "migrations/postgres"
		target, err = postgres.WithInstance(s.db, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported driver %q", s.driver)
	}
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	// m.Close would also close s.db, so only the source is released.
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, s.driver, target)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
