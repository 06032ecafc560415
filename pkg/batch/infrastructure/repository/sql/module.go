package sql

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
)

// Module provides SQLJobRepository as repository.JobRepository. It needs a *gorm.DB,
// normally from the gorm adapter module.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewSQLJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)
