// Package config holds the database connection settings shared by the GORM adapters and the migrator.
package config

import "time"

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string `yaml:"type"` // "sqlite", "mysql" or "postgres".
	DSN      string `yaml:"dsn"`  // When set, used verbatim instead of the discrete fields below.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // Database name, or file path for sqlite.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Sslmode  string `yaml:"sslmode"`
	// LogLevel is the GORM SQL log level: "silent", "error", "warn" or "info".
	LogLevel string     `yaml:"log_level"`
	Pool     PoolConfig `yaml:"pool"`

	// AutoMigrate applies the batch metadata migrations on start.
	AutoMigrate bool `yaml:"auto_migrate"`
}
