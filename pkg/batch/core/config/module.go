package config

import (
	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"

	"go.uber.org/fx"
)

// Module provides *Config and its sections to fx. The application supplies EmbeddedConfig.
var Module = fx.Options(
	fx.Provide(func() EnvironmentExpander { return NewOsEnvironmentExpander() }),
	fx.Provide(NewConfigProvider),
	fx.Provide(
		func(cfg *Config) *ImportConfig { return &cfg.Import },
		func(cfg *Config) *dbconfig.DatabaseConfig { return &cfg.Database },
		func(cfg *Config) *StorageConfig { return &cfg.Storage },
		func(cfg *Config) *MetricsConfig { return &cfg.Metrics },
		func(cfg *Config) *TracingConfig { return &cfg.Tracing },
		func(cfg *Config) *WebConfig { return &cfg.Web },
	),
)
