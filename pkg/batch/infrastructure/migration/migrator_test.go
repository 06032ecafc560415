package migration_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/migration"
)

func sqliteConfig(t *testing.T) dbconfig.DatabaseConfig {
	t.Helper()
	return dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "batch.db"),
	}
}

func tableNames(t *testing.T, path string) []string {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestMigrateFrameworkCreatesBatchTables(t *testing.T) {
	cfg := sqliteConfig(t)

	require.NoError(t, migration.MigrateFramework(context.Background(), cfg))

	names := tableNames(t, cfg.Database)
	assert.Contains(t, names, "batch_job_instance")
	assert.Contains(t, names, "batch_job_execution")
	assert.Contains(t, names, "batch_step_execution")
	assert.Contains(t, names, migration.FrameworkMigrationsTable)
}

func TestMigrateFrameworkIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)

	require.NoError(t, migration.MigrateFramework(context.Background(), cfg))
	require.NoError(t, migration.MigrateFramework(context.Background(), cfg))
}

func TestMigratorUpAndDownWithApplicationFS(t *testing.T) {
	cfg := sqliteConfig(t)
	appFS := fstest.MapFS{
		"sqlite/000001_create_widget.up.sql":   {Data: []byte("CREATE TABLE widget (id INTEGER PRIMARY KEY, name TEXT);")},
		"sqlite/000001_create_widget.down.sql": {Data: []byte("DROP TABLE widget;")},
	}

	m, err := migration.NewMigrator(cfg)
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Up(ctx, appFS, "sqlite", migration.AppMigrationsTable))
	assert.Contains(t, tableNames(t, cfg.Database), "widget")

	require.NoError(t, m.Down(ctx, appFS, "sqlite", migration.AppMigrationsTable))
	assert.NotContains(t, tableNames(t, cfg.Database), "widget")
}

func TestNewMigratorRejectsUnknownType(t *testing.T) {
	_, err := migration.NewMigrator(dbconfig.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)

	_, err = migration.NewMigrator(dbconfig.DatabaseConfig{Type: "sqlite"})
	assert.Error(t, err)
}
