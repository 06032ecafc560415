package migration

import (
	"context"

	"go.uber.org/fx"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

func newMigrator(cfg *dbconfig.DatabaseConfig) (Migrator, error) {
	return NewMigrator(*cfg)
}

// registerFrameworkMigration applies the batch metadata migrations on start when
// database.auto_migrate is set.
func registerFrameworkMigration(lc fx.Lifecycle, cfg *dbconfig.DatabaseConfig, m Migrator) {
	if !cfg.AutoMigrate {
		logger.Debugf("Framework migrations disabled (database.auto_migrate=false).")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx, FrameworkMigrationsFS(), cfg.Type, FrameworkMigrationsTable)
		},
		OnStop: func(ctx context.Context) error {
			return m.Close()
		},
	})
}

// Module provides the Migrator and runs the framework migrations on application start.
var Module = fx.Options(
	fx.Provide(newMigrator),
	fx.Invoke(registerFrameworkMigration),
)
