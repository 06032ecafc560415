package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
)

// Module provides InMemoryJobRepository as repository.JobRepository together with the
// local transaction manager it cooperates with.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
		fx.Annotate(
			tx.NewLocalTransactionManager,
			fx.As(new(tx.TransactionManager)),
		),
	),
)
