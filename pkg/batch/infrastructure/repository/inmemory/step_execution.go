package inmemory

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
)

// SaveStepExecution implements repository.StepExecution.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[se.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", se.ID)
	}
	if _, ok := r.jobExecutions[se.JobExecutionID]; !ok {
		return repository.ErrJobExecutionNotFound
	}
	cp := *se
	r.stepExecutions[se.ID] = &cp
	return nil
}

// UpdateStepExecution implements repository.StepExecution.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stepExecutions[se.ID]; !ok {
		return repository.ErrStepExecutionNotFound
	}
	se.LastUpdated = time.Now()
	cp := *se
	r.stepExecutions[se.ID] = &cp
	return nil
}

// UpdateStepProgress implements repository.StepExecution. Inside a transaction the
// write is applied when the transaction commits and dropped on rollback.
func (r *InMemoryJobRepository) UpdateStepProgress(ctx context.Context, stepExecutionID string, progress model.StepProgress) error {
	r.mu.RLock()
	_, ok := r.stepExecutions[stepExecutionID]
	r.mu.RUnlock()
	if !ok {
		return repository.ErrStepExecutionNotFound
	}

	apply := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if se, ok := r.stepExecutions[stepExecutionID]; ok {
			se.StepProgress = progress
			se.LastUpdated = time.Now()
		}
	}
	if t, inTx := tx.FromContext(ctx); inTx {
		t.AfterCommit(apply)
		return nil
	}
	apply()
	return nil
}

// GetStepExecution implements repository.StepExecution.
func (r *InMemoryJobRepository) GetStepExecution(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	se, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	cp := *se
	return &cp, nil
}
