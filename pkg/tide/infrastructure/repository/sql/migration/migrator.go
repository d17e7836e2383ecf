// Package migration applies the embedded status-table schema with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "tide_schema_migrations"

//go:embed scripts
var scripts embed.FS

// Migrator applies the scripts of one dialect to a database.
type Migrator struct {
	db     *sql.DB
	dbType string
}

// NewMigrator creates a Migrator for db, whose dialect is dbType ("sqlite", "mysql" or "postgres").
func NewMigrator(db *sql.DB, dbType string) *Migrator {
	return &Migrator{db: db, dbType: dbType}
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	logger.Infof("Applying status schema migrations (dialect: %s, table: %s)", m.dbType, MigrationsTable)

	source, err := iofs.New(scripts, "scripts/"+m.dbType)
	if err != nil {
		return fmt.Errorf("no migrations for database type %s: %w", m.dbType, err)
	}

	driver, release, err := m.databaseDriver(ctx)
	if err != nil {
		_ = source.Close()
		return err
	}
	defer release()

	instance, err := migrate.NewWithInstance("iofs", source, m.dbType, driver)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer source.Close()

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := instance.Version(); verr == nil {
			logger.Errorf("Status schema migration failed at version %d (dirty: %t)", version, dirty)
		}
		return fmt.Errorf("status schema migration failed (%s): %w", m.dbType, err)
	}

	version, _, err := instance.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Infof("Status schema is at version %d.", version)
	return nil
}

// databaseDriver returns the migrate driver and a func releasing what it holds.
// Drivers are never closed through migrate since that would close the shared
// *sql.DB; mysql and postgres run on a dedicated *sql.Conn instead.
func (m *Migrator) databaseDriver(ctx context.Context) (database.Driver, func(), error) {
	switch m.dbType {
	case "sqlite":
		driver, err := sqlite.WithInstance(m.db, &sqlite.Config{MigrationsTable: MigrationsTable})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite migrate driver: %w", err)
		}
		return driver, func() {}, nil
	case "mysql", "postgres":
		conn, err := m.db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reserve a connection for migrations: %w", err)
		}
		release := func() { _ = conn.Close() }

		var driver database.Driver
		if m.dbType == "mysql" {
			driver, err = mysql.WithConnection(ctx, conn, &mysql.Config{MigrationsTable: MigrationsTable})
		} else {
			driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: MigrationsTable})
		}
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to create %s migrate driver: %w", m.dbType, err)
		}
		return driver, release, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}
