package database

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationStatus is the schema version recorded by golang-migrate.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	// Empty is true when no migration has run yet.
	Empty bool
}

func (s MigrationStatus) String() string {
	switch {
	case s.Empty:
		return "none"
	case s.Dirty:
		return fmt.Sprintf("%d (dirty)", s.Version)
	default:
		return fmt.Sprintf("%d", s.Version)
	}
}

// Migrator applies the SQL files under a migrations directory.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens the migrations in dir against cfg's database.
func NewMigrator(cfg Config, dir string) (*Migrator, error) {
	m, err := migrate.New("file://"+dir, cfg.MigrateURL())
	if err != nil {
		return nil, fmt.Errorf("init migrations from %s: %w", dir, err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration. It reports whether anything changed.
func (mg *Migrator) Up() (bool, error) {
	return changed(mg.m.Up())
}

// Down rolls back the latest migration.
func (mg *Migrator) Down() error {
	return mg.m.Steps(-1)
}

// Goto migrates up or down to version.
func (mg *Migrator) Goto(version uint) (bool, error) {
	return changed(mg.m.Migrate(version))
}

// Status returns the current schema version.
func (mg *Migrator) Status() (MigrationStatus, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{Empty: true}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("read migration version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

// Close releases the source and database handles.
func (mg *Migrator) Close() {
	if sourceErr, dbErr := mg.m.Close(); sourceErr != nil || dbErr != nil {
		log.Warnf("[Migrate] Failed to close migration resources: %v, %v", sourceErr, dbErr)
	}
}

func changed(err error) (bool, error) {
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
