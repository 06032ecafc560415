package usecase_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/sqlite"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/batchimport/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	batchtest "github.com/tigerroll/batchimport/pkg/batch/test"
)

func sharedDatabase(t *testing.T) dbconfig.DatabaseConfig {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "batch.db"),
		LogLevel: "silent",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1},
	}
	require.NoError(t, migration.MigrateFramework(context.Background(), cfg))
	return cfg
}

// leaveRunning writes what a process leaves behind when it dies after committing
// `committed` records: a STARTED execution whose step recorded that progress.
func leaveRunning(t *testing.T, cfg dbconfig.DatabaseConfig, p model.JobParameters, committed int) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)
	defer func() { _ = gormadapter.Close(db) }()
	repo := sqlrepo.NewSQLJobRepository(db)

	ji, _, err := repo.FindOrCreateInstance(ctx, jobName, p)
	require.NoError(t, err)
	je, err := repo.CreateExecution(ctx, ji)
	require.NoError(t, err)
	se := model.NewStepExecution(stepName, je.ID)
	je.AddStepExecution(se)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	je.MarkAsStarted()
	require.NoError(t, repo.UpdateExecutionStatus(ctx, je))
	se.MarkAsStarted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	require.NoError(t, repo.UpdateStepProgress(ctx, se.ID, model.StepProgress{
		ReadCount:             committed,
		WriteCount:            committed,
		CommitCount:           committed / 10,
		LastCommittedPosition: int64(committed),
	}))
	return je
}

func TestAbandonReleasesExecutionOfDeadProcess(t *testing.T) {
	cfg := sharedDatabase(t)
	p := params("crash")
	crashed := leaveRunning(t, cfg, p, 20)

	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gormadapter.Close(db) })
	repo := sqlrepo.NewSQLJobRepository(db)

	sink := batchtest.NewRecordingSink[int]()
	stream := batchtest.NewGeneratedStream(30, func(pos int64) int { return int(pos) })
	step, err := item.NewChunkStep[int, int](stepName, 10, identity(), sink, repo, gormadapter.NewGormTransactionManager(db), item.Options{})
	require.NoError(t, err)
	controller, err := usecase.NewSimpleJobController(repo, usecase.ControllerOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = controller.Close(context.Background()) })
	require.NoError(t, controller.Register(usecase.JobDefinition{
		Name: jobName,
		Step: usecase.NewChunkStepRunner[int, int](step, func(ctx context.Context, _ model.JobParameters) (port.RecordStream[int], error) {
			return stream, nil
		}),
	}))
	ctx := context.Background()

	_, err = controller.Run(ctx, jobName, p)
	assert.ErrorIs(t, err, exception.ErrJobExecutionAlreadyRunning)
	err = controller.Stop(ctx, crashed.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, exception.ErrJobNotRunning)

	require.NoError(t, controller.Abandon(ctx, crashed.ID))
	abandoned, err := repo.GetJobExecution(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, abandoned.Status)
	assert.Equal(t, model.ExitStatusAbandoned, abandoned.ExitStatus)
	assert.NotNil(t, abandoned.EndTime)
	require.Len(t, abandoned.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusAbandoned, abandoned.StepExecutions[0].Status)
	assert.Equal(t, int64(20), abandoned.StepExecutions[0].LastCommittedPosition, "progress survives the abandon")

	require.NoError(t, controller.Abandon(ctx, crashed.ID), "abandoning twice is a no-op")

	restarted, err := controller.Run(ctx, jobName, p)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, crashed.JobInstanceID, restarted.JobInstanceID)
	assert.Equal(t, []int64{21}, stream.FirstReadPositions(), "committed records are not read again")
	assert.Equal(t, []int{10}, sink.BatchSizes())
	se := restarted.StepExecutions[0]
	assert.Equal(t, 30, se.WriteCount)
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, int64(30), se.LastCommittedPosition)

	err = controller.Abandon(ctx, restarted.ID)
	assert.ErrorIs(t, err, exception.ErrJobNotRunning)
	_, err = controller.Run(ctx, jobName, p)
	assert.ErrorIs(t, err, exception.ErrInstanceAlreadyComplete)
}

func TestAbandonRefusesExecutionDrivenByThisProcess(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 4, chunkSize: 2})
	block := make(chan struct{})
	h.sink.Block = block
	ctx := context.Background()

	future, err := h.controller.Start(ctx, jobName, params("local"))
	require.NoError(t, err)

	err = h.controller.Abandon(ctx, future.ExecutionID())
	assert.ErrorIs(t, err, exception.ErrJobExecutionAlreadyRunning)

	close(block)
	je, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
}
