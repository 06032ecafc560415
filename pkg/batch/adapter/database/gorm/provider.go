// Package gorm opens GORM connections for the configured database type and provides the
// GORM transaction manager used by the chunk loop, the SQL Execution Repository and the GORM sink.
// Dialects register themselves from the mysql, postgres and sqlite subpackages.
package gorm

import (
	"fmt"
	"sync"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"

	"gorm.io/gorm"
)

const moduleName = "gorm_adapter"

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Open establishes a GORM connection for cfg and applies the pool settings.
func Open(cfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "unsupported database type", err, false, false)
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to create dialector for %s", cfg.Type), err, false, false)
	}
	return OpenDialector(dialector, cfg)
}

// OpenDialector opens dialector with the logger and pool settings of cfg.
// Tests use it to open sqlmock or in-memory connections.
func OpenDialector(dialector gorm.Dialector, cfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(cfg.LogLevel),
	})
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to open GORM connection", err, false, true)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to get underlying sql.DB", err, false, false)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	logger.Infof("Established DB connection (%s).", cfg.Type)
	return db, nil
}

// Close closes the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	logger.Infof("Closing database connection...")
	return sqlDB.Close()
}
