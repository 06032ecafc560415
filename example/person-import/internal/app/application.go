// Package app runs the person import: a CSV of persons is validated, converted and
// stored in the person table in chunks, restartable from the last committed chunk.
package app

import (
	"context"
	"io/fs"
	"time"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	inframetrics "github.com/tigerroll/batchimport/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/web"
	batchlistener "github.com/tigerroll/batchimport/pkg/batch/listener"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"

	"github.com/tigerroll/batchimport/example/person-import/internal/job"
)

// RestartFlag relaunches the given parameters as they are instead of creating a new
// instance. The parameters, uid included, must be those of the failed run.
const RestartFlag = "--restart"

// DefaultInputFile is used when input.file.name is not given.
const DefaultInputFile = "people.csv"

// StopTimeout bounds the time given to a running chunk to commit on shutdown.
const StopTimeout = 5 * time.Minute

// ParseLaunchArgs converts the command-line arguments to job parameters. It reports
// whether RestartFlag was given.
func ParseLaunchArgs(args []string) (model.JobParameters, bool, error) {
	restart := false
	kv := make([]string, 0, len(args))
	for _, a := range args {
		if a == RestartFlag {
			restart = true
			continue
		}
		kv = append(kv, a)
	}
	params, err := model.ParseJobParameters(kv)
	if err != nil {
		return model.JobParameters{}, false, exception.NewBatchError("app", "invalid job parameters", err, false, false)
	}
	if _, ok := params.Get(job.InputFileParameter); !ok {
		params = params.With(job.InputFileParameter, model.StringParam(DefaultInputFile))
	}
	return params, restart, nil
}

// RunApplication runs the import once and returns the process exit code: 0 when the
// execution completed, 1 otherwise. migrationsFS holds the person table migrations in
// one directory per database type.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, migrationsFS fs.FS, args []string) int {
	result := NewResult()

	app := fx.New(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(migrationsFS, fx.As(new(fs.FS)), fx.ResultTags(`name:"appMigrationsFS"`)),
			fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
			LaunchArgs(args),
			result,
		),
		fx.StopTimeout(StopTimeout),
		logger.Module,
		config.Module,
		inframetrics.Module,
		gormadapter.Module,
		sql.Module,
		migration.Module,
		storage.Module,
		batchlistener.Module,
		usecase.Module,
		web.Module,
		job.Module,
		Module,
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		logger.Errorf("Application start failed: %v", err)
		return 1
	}

	<-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Errorf("Application stop failed: %v", err)
	}
	return result.ExitCode()
}
