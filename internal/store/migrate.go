package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/threadline/internal/store/migrations"
)

// MigrateResult describes the schema after a migration run.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	// m is never closed; closing it would close db as well.
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending up migration. Both the daemon history
// database and the client cache share this schema.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	return result(m, m.Up(), "up")
}

// Rollback reverts the given number of applied migrations.
func (db *DB) Rollback(steps int) (*MigrateResult, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("rollback: steps must be positive, got %d", steps)
	}
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	return result(m, m.Steps(-steps), "rollback")
}

func result(m *migrate.Migrate, runErr error, op string) (*MigrateResult, error) {
	changed := true
	if errors.Is(runErr, migrate.ErrNoChange) {
		changed, runErr = false, nil
	}
	if runErr != nil {
		return nil, fmt.Errorf("migration %s: %w", op, runErr)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
