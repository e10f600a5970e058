// Package dbmigrate applies the schema migrations embedded in this module
// using golang-migrate. The teacher (matrixinfer-ai-kthena) has no SQL
// schema of its own; r3e-network-service_layer's go.mod lists
// github.com/golang-migrate/migrate/v4 but its own migrations.go applies
// embedded .sql files by hand over database/sql. Since the library is
// already part of the adopted stack and genuinely does the versioned,
// dirty-state-tracking job better than a hand-rolled loop, it is wired
// directly here against golang-migrate's own documented iofs+postgres
// driver pair rather than left unused.
package dbmigrate

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Apply brings the schema at dsn up to the latest embedded migration. It is
// safe to call on every process start: golang-migrate no-ops when the
// schema is already current.
func Apply(dsn string, log *logrus.Entry) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("construct migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("schema already at latest migration")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("schema migrated")
	}
	return nil
}

// Down rolls back the single most recently applied migration. Used only by
// the `cortex migrate down` CLI subcommand, never on the serving path.
func Down(dsn string) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("construct migrator: %w", err)
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}
