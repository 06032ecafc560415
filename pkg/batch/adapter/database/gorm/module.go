package gorm

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
)

// NewDBProvider opens the configured connection and closes it on application stop.
func NewDBProvider(lc fx.Lifecycle, cfg *dbconfig.DatabaseConfig) (*gorm.DB, error) {
	db, err := Open(*cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return Close(db)
		},
	})
	return db, nil
}

// Module provides *gorm.DB and the GORM transaction manager. The application imports the
// dialect subpackages it needs.
var Module = fx.Options(
	fx.Provide(NewDBProvider),
	fx.Provide(fx.Annotate(
		NewGormTransactionManager,
		fx.As(new(tx.TransactionManager)),
	)),
)
