package app

import (
	"context"
	"io/fs"
	"sync"

	"go.uber.org/fx"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/serialization"
)

// LaunchArgs are the command-line arguments: key=value job parameters and RestartFlag.
type LaunchArgs []string

// Result carries the outcome of the launched execution out of the fx application.
type Result struct {
	mu        sync.Mutex
	exitCode  int
	execution *model.JobExecution
}

// NewResult returns a Result reporting failure until an execution completed.
func NewResult() *Result {
	return &Result{exitCode: 1}
}

func (r *Result) set(je *model.JobExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execution = je
	if je != nil && je.Status == model.BatchStatusCompleted {
		r.exitCode = 0
	}
}

// ExitCode is 0 when the execution completed and 1 otherwise.
func (r *Result) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

// Execution returns the finished execution, nil when none was launched.
func (r *Result) Execution() *model.JobExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.execution
}

type appMigrationParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *dbconfig.DatabaseConfig
	Migrator  migration.Migrator
	FS        fs.FS `name:"appMigrationsFS"`
}

// registerAppMigration creates the person table on start, after the framework tables.
func registerAppMigration(p appMigrationParams) {
	if !p.Config.AutoMigrate {
		logger.Debugf("Application migrations disabled (database.auto_migrate=false).")
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Migrator.Up(ctx, p.FS, p.Config.Type, migration.AppMigrationsTable)
		},
	})
}

type launcherParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Controller *usecase.SimpleJobController
	Job        usecase.JobDefinition
	Args       LaunchArgs
	Result     *Result
	AppCtx     context.Context `name:"appCtx"`
}

// registerLauncher runs the import once the application started and shuts the
// application down when it finished. Cancelling appCtx stops the execution at the next
// chunk boundary.
func registerLauncher(p launcherParams) {
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in job execution: %v", r)
					}
					logger.Infof("Requesting application shutdown after job completion.")
					if err := p.Shutdowner.Shutdown(); err != nil {
						logger.Debugf("Shutdown request ignored: %v", err)
					}
				}()
				p.Result.set(launch(p))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func launch(p launcherParams) *model.JobExecution {
	params, restart, err := ParseLaunchArgs(p.Args)
	if err != nil {
		logger.Errorf("Invalid job parameters: %v", err)
		return nil
	}
	if !restart && p.Job.Incrementer != nil {
		params = p.Job.Incrementer.GetNext(params)
	}
	logger.Infof("Launching job '%s' with parameters %v (restart=%t).", p.Job.Name,
		serialization.GetMaskedJobParametersMap(params.Values()), restart)

	future, err := p.Controller.Start(p.AppCtx, p.Job.Name, params)
	if err != nil {
		logger.Errorf("Failed to launch job '%s': %v", p.Job.Name, err)
		return nil
	}
	logger.Infof("Job '%s' launched. Execution ID: %s", p.Job.Name, future.ExecutionID())

	select {
	case <-future.Done():
	case <-p.AppCtx.Done():
		logger.Warnf("Stopping execution %s at the next chunk boundary.", future.ExecutionID())
		if err := p.Controller.Stop(context.Background(), future.ExecutionID()); err != nil {
			logger.Warnf("Failed to stop execution %s: %v", future.ExecutionID(), err)
		}
	}

	je, err := future.Wait(context.Background())
	if err != nil {
		logger.Errorf("Job '%s' (Execution ID: %s) could not be recorded: %v", p.Job.Name, future.ExecutionID(), err)
	}
	if je != nil {
		logger.Infof("Job '%s' (Execution ID: %s) finished with status %s, exit status %s.", je.JobName, je.ID, je.Status, je.ExitStatus)
	}
	return je
}

// Module wires the application migrations and the launcher.
var Module = fx.Options(
	fx.Invoke(registerAppMigration),
	fx.Invoke(registerLauncher),
)
