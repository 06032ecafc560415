// Package sql provides the GORM-backed Execution Repository.
//
// Mutual exclusion of executions of one instance rests on the unique index over
// batch_job_execution.instance_guard, so it holds across processes sharing the database.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

const moduleName = "SQLJobRepository"

var restartableStatuses = []string{
	model.BatchStatusFailed.String(),
	model.BatchStatusStopped.String(),
}

// SQLJobRepository implements repository.JobRepository over GORM.
// Operations join the transaction carried by ctx when there is one.
type SQLJobRepository struct {
	db *gorm.DB
}

// NewSQLJobRepository creates a repository on db. The schema is expected to be migrated.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

func (r *SQLJobRepository) conn(ctx context.Context) *gorm.DB {
	return gormadapter.DBFromContext(ctx, r.db)
}

// --- JobInstance implementation ---

// FindOrCreateInstance implements repository.JobInstance. A concurrent creation of the
// same instance surfaces as a duplicate key and is resolved by reading the winner's row.
func (r *SQLJobRepository) FindOrCreateInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, []*model.JobExecution, error) {
	instance, err := r.FindJobInstance(ctx, jobName, params)
	switch {
	case err == nil:
		executions, err := r.FindJobExecutions(ctx, instance.ID)
		if err != nil {
			return nil, nil, err
		}
		return instance, executions, nil
	case !errors.Is(err, repository.ErrJobInstanceNotFound):
		return nil, nil, err
	}

	instance = model.NewJobInstance(jobName, params)
	if err := r.conn(ctx).Create(fromDomainJobInstance(instance)).Error; err != nil {
		if gormadapter.IsDuplicateKeyError(err) {
			logger.Debugf("JobInstance for '%s' was created concurrently, reloading.", jobName)
			existing, findErr := r.FindJobInstance(ctx, jobName, params)
			if findErr != nil {
				return nil, nil, findErr
			}
			executions, findErr := r.FindJobExecutions(ctx, existing.ID)
			if findErr != nil {
				return nil, nil, findErr
			}
			return existing, executions, nil
		}
		return nil, nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to save JobInstance for job '%s'", jobName), err, false, false)
	}
	logger.Debugf("JobInstance created: ID=%s, JobName=%s, ParametersHash=%s", instance.ID, jobName, instance.ParametersHash)
	return instance, []*model.JobExecution{}, nil
}

// FindJobInstance implements repository.JobInstance.
func (r *SQLJobRepository) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	var entity JobInstanceEntity
	err := r.conn(ctx).
		Where("job_name = ? AND parameters_hash = ?", jobName, params.Hash()).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobInstance for job '%s'", jobName), err, false, true)
	}
	return toDomainJobInstance(&entity), nil
}

// FindJobInstanceByID implements repository.JobInstance.
func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	var entity JobInstanceEntity
	if err := r.conn(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobInstance by ID: %s", id), err, false, true)
	}
	return toDomainJobInstance(&entity), nil
}

// --- JobExecution implementation ---

// CreateExecution implements repository.JobExecution.
//
// The insert carries instance_guard = instance id. When another execution of the instance
// is running or completed, the unique index rejects it and the conflict is classified
// after the transaction rolled back.
func (r *SQLJobRepository) CreateExecution(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error) {
	je := model.NewJobExecution(instance)

	err := r.conn(ctx).Transaction(func(txDB *gorm.DB) error {
		var count int64
		if err := txDB.Model(&JobInstanceEntity{}).Where("id = ?", instance.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrJobInstanceNotFound
		}
		if err := txDB.Create(fromDomainJobExecution(je)).Error; err != nil {
			return err
		}
		result := txDB.Model(&JobExecutionEntity{}).
			Where("job_instance_id = ? AND status IN ?", instance.ID, restartableStatuses).
			Updates(map[string]interface{}{
				"status":           model.BatchStatusAbandoned,
				"exit_status":      model.ExitStatusAbandoned,
				"exit_description": "superseded by execution " + je.ID,
				"last_updated":     time.Now(),
				"version":          gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			logger.Debugf("Marked %d execution(s) of JobInstance %s ABANDONED, superseded by %s.", result.RowsAffected, instance.ID, je.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrJobInstanceNotFound) {
			return nil, err
		}
		if gormadapter.IsDuplicateKeyError(err) {
			return nil, r.guardConflict(ctx, instance)
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to create JobExecution for JobInstance %s", instance.ID), err, false, false)
	}
	return je, nil
}

// guardConflict classifies a rejected insert into an already-complete or already-running error.
func (r *SQLJobRepository) guardConflict(ctx context.Context, instance *model.JobInstance) error {
	var owner JobExecutionEntity
	err := r.conn(ctx).Where("instance_guard = ?", instance.ID).First(&owner).Error
	if err == nil && owner.Status == model.BatchStatusCompleted {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("job instance %s (%s) already completed by execution %s", instance.ID, instance.JobName, owner.ID),
			exception.ErrInstanceAlreadyComplete, false, false)
	}
	ownerID := owner.ID
	if err != nil {
		ownerID = "another execution"
	}
	return exception.NewBatchError(moduleName,
		fmt.Sprintf("job instance %s (%s) is being executed by %s", instance.ID, instance.JobName, ownerID),
		exception.ErrJobExecutionAlreadyRunning, false, false)
}

// UpdateExecutionStatus implements repository.JobExecution with an optimistic version check.
// On success je.Version and je.LastUpdated reflect the stored row.
func (r *SQLJobRepository) UpdateExecutionStatus(ctx context.Context, je *model.JobExecution) error {
	now := time.Now()
	result := r.conn(ctx).Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", je.ID, je.Version).
		Updates(map[string]interface{}{
			"status":           je.Status,
			"exit_status":      je.ExitStatus,
			"exit_description": je.ExitDescription,
			"start_time":       je.StartTime,
			"end_time":         je.EndTime,
			"last_updated":     now,
			"version":          gorm.Expr("version + 1"),
			"instance_guard":   guardFor(je),
		})
	if result.Error != nil {
		if gormadapter.IsDuplicateKeyError(result.Error) {
			return exception.NewBatchError(moduleName,
				fmt.Sprintf("job instance %s is owned by another execution", je.JobInstanceID),
				exception.ErrJobExecutionAlreadyRunning, false, false)
		}
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to update JobExecution (ID: %s)", je.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.conn(ctx).Model(&JobExecutionEntity{}).Where("id = ?", je.ID).Count(&count).Error; err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to check JobExecution (ID: %s)", je.ID), err, false, true)
		}
		if count == 0 {
			return repository.ErrJobExecutionNotFound
		}
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("JobExecution %s was modified concurrently (version %d is stale)", je.ID, je.Version), nil)
	}
	je.Version++
	je.LastUpdated = now
	return nil
}

// GetJobExecution implements repository.JobExecution.
func (r *SQLJobRepository) GetJobExecution(ctx context.Context, id string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	if err := r.conn(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobExecution by ID: %s", id), err, false, true)
	}
	je := toDomainJobExecution(&entity)
	if err := r.attachSteps(ctx, []*model.JobExecution{je}); err != nil {
		return nil, err
	}
	return je, nil
}

// FindJobExecutions implements repository.JobExecution.
func (r *SQLJobRepository) FindJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	var entities []JobExecutionEntity
	if err := r.conn(ctx).Where("job_instance_id = ?", instanceID).Order("create_time DESC").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobExecutions of JobInstance %s", instanceID), err, false, true)
	}
	executions := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		executions = append(executions, toDomainJobExecution(&entities[i]))
	}
	if err := r.attachSteps(ctx, executions); err != nil {
		return nil, err
	}
	return executions, nil
}

// attachSteps loads the step executions of all given executions in one query.
func (r *SQLJobRepository) attachSteps(ctx context.Context, executions []*model.JobExecution) error {
	if len(executions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(executions))
	byID := make(map[string]*model.JobExecution, len(executions))
	for _, je := range executions {
		ids = append(ids, je.ID)
		byID[je.ID] = je
	}

	var entities []StepExecutionEntity
	if err := r.conn(ctx).Where("job_execution_id IN ?", ids).Order("last_updated ASC").Find(&entities).Error; err != nil {
		return exception.NewBatchError(moduleName, "failed to load StepExecutions", err, false, true)
	}
	for i := range entities {
		if je, ok := byID[entities[i].JobExecutionID]; ok {
			je.StepExecutions = append(je.StepExecutions, toDomainStepExecution(&entities[i]))
		}
	}
	return nil
}

// --- StepExecution implementation ---

// SaveStepExecution implements repository.StepExecution.
func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	if err := r.conn(ctx).Create(fromDomainStepExecution(se)).Error; err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save StepExecution (ID: %s)", se.ID), err, false, false)
	}
	return nil
}

// UpdateStepExecution implements repository.StepExecution.
func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	now := time.Now()
	columns := progressColumns(se.StepProgress)
	columns["status"] = se.Status
	columns["exit_status"] = se.ExitStatus
	columns["exit_description"] = se.ExitDescription
	columns["start_time"] = se.StartTime
	columns["end_time"] = se.EndTime
	columns["last_updated"] = now
	columns["version"] = gorm.Expr("version + 1")

	result := r.conn(ctx).Model(&StepExecutionEntity{}).Where("id = ?", se.ID).Updates(columns)
	if result.Error != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to update StepExecution (ID: %s)", se.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrStepExecutionNotFound
	}
	se.Version++
	se.LastUpdated = now
	return nil
}

// UpdateStepProgress implements repository.StepExecution.
func (r *SQLJobRepository) UpdateStepProgress(ctx context.Context, stepExecutionID string, progress model.StepProgress) error {
	columns := progressColumns(progress)
	columns["last_updated"] = time.Now()

	result := r.conn(ctx).Model(&StepExecutionEntity{}).Where("id = ?", stepExecutionID).Updates(columns)
	if result.Error != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to record progress of StepExecution (ID: %s)", stepExecutionID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return repository.ErrStepExecutionNotFound
	}
	return nil
}

// GetStepExecution implements repository.StepExecution.
func (r *SQLJobRepository) GetStepExecution(ctx context.Context, id string) (*model.StepExecution, error) {
	var entity StepExecutionEntity
	if err := r.conn(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find StepExecution by ID: %s", id), err, false, true)
	}
	return toDomainStepExecution(&entity), nil
}

// Close implements repository.JobRepository. The connection pool belongs to the DB provider.
func (r *SQLJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)
