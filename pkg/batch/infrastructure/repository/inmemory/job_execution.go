package inmemory

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// CreateExecution implements repository.JobExecution.
func (r *InMemoryJobRepository) CreateExecution(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobInstances[instance.ID]; !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	if ownerID, held := r.instanceGuard[instance.ID]; held {
		owner := r.jobExecutions[ownerID]
		if owner != nil && owner.Status == model.BatchStatusCompleted {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("job instance %s (%s) already completed by execution %s", instance.ID, instance.JobName, ownerID), exception.ErrInstanceAlreadyComplete, false, false)
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("job instance %s (%s) is being executed by %s", instance.ID, instance.JobName, ownerID), exception.ErrJobExecutionAlreadyRunning, false, false)
	}

	je := model.NewJobExecution(instance)
	for _, prev := range r.jobExecutions {
		if prev.JobInstanceID == instance.ID && prev.Status.IsRestartable() {
			prev.MarkAsAbandoned(je.ID)
			prev.Version++
			logger.Debugf("JobExecution %s marked ABANDONED, superseded by %s.", prev.ID, je.ID)
		}
	}
	r.jobExecutions[je.ID] = je
	r.instanceGuard[instance.ID] = je.ID
	return r.cloneExecution(je), nil
}

// UpdateExecutionStatus implements repository.JobExecution. The stored version must match.
func (r *InMemoryJobRepository) UpdateExecutionStatus(ctx context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobExecutions[je.ID]
	if !ok {
		return repository.ErrJobExecutionNotFound
	}
	if stored.Version != je.Version {
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("JobExecution %s was modified concurrently (stored version %d, given %d)", je.ID, stored.Version, je.Version), nil)
	}

	if je.Status.HoldsInstanceGuard() {
		if owner, held := r.instanceGuard[je.JobInstanceID]; held && owner != je.ID {
			return exception.NewBatchError(moduleName, fmt.Sprintf("job instance %s is owned by execution %s", je.JobInstanceID, owner), exception.ErrJobExecutionAlreadyRunning, false, false)
		}
		r.instanceGuard[je.JobInstanceID] = je.ID
	} else if r.instanceGuard[je.JobInstanceID] == je.ID {
		delete(r.instanceGuard, je.JobInstanceID)
	}

	je.Version++
	je.LastUpdated = time.Now()
	stored.Status = je.Status
	stored.ExitStatus = je.ExitStatus
	stored.ExitDescription = je.ExitDescription
	stored.StartTime = je.StartTime
	stored.EndTime = je.EndTime
	stored.LastUpdated = je.LastUpdated
	stored.Version = je.Version
	return nil
}

// GetJobExecution implements repository.JobExecution.
func (r *InMemoryJobRepository) GetJobExecution(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.cloneExecution(je), nil
}

// FindJobExecutions implements repository.JobExecution.
func (r *InMemoryJobRepository) FindJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executionsOf(instanceID), nil
}
