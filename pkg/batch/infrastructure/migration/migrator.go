// Package migration applies schema migrations with golang-migrate from embedded SQL files.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	mysqldialect "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/mysql"
	pgdialect "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/postgres"
	sqlitedialect "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// migratorImpl implements Migrator. Every run opens a connection of its own because
// golang-migrate closes the *sql.DB it was given; the application pool is never handed over.
type migratorImpl struct {
	driverName string
	dsn        string
	dbType     string
}

// NewMigrator creates a Migrator for cfg.
func NewMigrator(cfg dbconfig.DatabaseConfig) (Migrator, error) {
	driverName, dsn, err := migrationDSN(cfg)
	if err != nil {
		return nil, err
	}
	return &migratorImpl{driverName: driverName, dsn: dsn, dbType: cfg.Type}, nil
}

// migrationDSN returns the database/sql driver name and DSN used for migrations.
func migrationDSN(cfg dbconfig.DatabaseConfig) (string, string, error) {
	switch cfg.Type {
	case "sqlite":
		dsn := sqlitedialect.ConnectionString(cfg)
		if dsn == "" {
			return "", "", errors.New("SQLite database path cannot be empty")
		}
		return "sqlite3", dsn, nil
	case "mysql":
		parsed, err := mysqldriver.ParseDSN(mysqldialect.ConnectionString(cfg))
		if err != nil {
			return "", "", fmt.Errorf("invalid mysql DSN: %w", err)
		}
		parsed.MultiStatements = true
		return "mysql", parsed.FormatDSN(), nil
	case "postgres":
		return "postgres", pgdialect.ConnectionString(cfg), nil
	default:
		return "", "", fmt.Errorf("unsupported database type for migration: %s", cfg.Type)
	}
}

func (m *migratorImpl) getDatabaseDriver(db *sql.DB, tableName string) (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	db, err := sql.Open(m.driverName, m.dsn)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, fmt.Errorf("failed to open migration connection (%s): %w", m.dbType, err)
	}
	dbDriver, err := m.getDatabaseDriver(db, tableName)
	if err != nil {
		_ = sourceDriver.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

func (m *migratorImpl) runMigration(ctx context.Context, migrationFS fs.FS, path string, command string, tableName string) error {
	logger.Infof("Executing migration '%s' (Path: %s, Table: %s)", command, path, tableName)

	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return err
	}
	defer func() {
		if sourceErr, dbErr := mInstance.Close(); sourceErr != nil || dbErr != nil {
			logger.Warnf("Failed to close migrate instance: source=%v, db=%v", sourceErr, dbErr)
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		mInstance.GracefulStop <- true
	})
	defer stop()

	var migrateErr error
	switch command {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		if version, dirty, versionErr := mInstance.Version(); versionErr == nil {
			logger.Errorf("Migration stopped at version %d (dirty: %t).", version, dirty)
		}
		return fmt.Errorf("migration failed for command '%s' (DB: %s, Path: %s): %w", command, m.dbType, path, migrateErr)
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

// Up implements Migrator.
func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, "up", tableName)
}

// Down implements Migrator.
func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, "down", tableName)
}

// Close implements Migrator. Connections are closed at the end of each run.
func (m *migratorImpl) Close() error {
	return nil
}

// MigrateFramework applies the batch metadata migrations for cfg.Type.
func MigrateFramework(ctx context.Context, cfg dbconfig.DatabaseConfig) error {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(ctx, FrameworkMigrationsFS(), cfg.Type, FrameworkMigrationsTable)
}
