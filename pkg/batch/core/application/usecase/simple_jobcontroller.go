package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchimport/pkg/batch/core/metrics"
	exception "github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

const moduleName = "job_controller"

// DefaultAsyncPoolSize bounds the number of executions Start runs concurrently.
const DefaultAsyncPoolSize = 4

// ControllerOptions holds the optional collaborators of a SimpleJobController.
type ControllerOptions struct {
	// AsyncPoolSize is the capacity of the pool behind Start. A full pool rejects Start.
	AsyncPoolSize int
	// Listeners are notified of every job.
	Listeners []port.JobExecutionListener
	Tracer    metrics.Tracer
}

// runningExecution is an execution driven by this controller.
type runningExecution struct {
	mu        sync.Mutex // guards execution between the worker and Stop
	execution *model.JobExecution
	stop      atomic.Bool
	cancel    context.CancelFunc
}

// SimpleJobController is the in-process Job Controller.
type SimpleJobController struct {
	jobRepository repository.JobRepository
	listeners     []port.JobExecutionListener
	tracer        metrics.Tracer
	pool          *ants.Pool

	mu   sync.RWMutex
	jobs map[string]JobDefinition

	runningMu sync.Mutex
	running   map[string]*runningExecution
	inFlight  sync.WaitGroup
}

// Verify that SimpleJobController implements the JobOperator interface.
var _ JobOperator = (*SimpleJobController)(nil)

// NewSimpleJobController creates a controller backed by jobRepository.
func NewSimpleJobController(jobRepository repository.JobRepository, opts ControllerOptions) (*SimpleJobController, error) {
	if jobRepository == nil {
		return nil, exception.NewBatchErrorf(moduleName, "job repository is required")
	}
	size := opts.AsyncPoolSize
	if size <= 0 {
		size = DefaultAsyncPoolSize
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create the execution pool", err, false, false)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &SimpleJobController{
		jobRepository: jobRepository,
		listeners:     opts.Listeners,
		tracer:        tracer,
		pool:          pool,
		jobs:          make(map[string]JobDefinition),
		running:       make(map[string]*runningExecution),
	}, nil
}

// Register makes def launchable by its name.
func (c *SimpleJobController) Register(def JobDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.jobs[def.Name]; exists {
		return exception.NewBatchErrorf(moduleName, "job '%s' is already registered", def.Name)
	}
	c.jobs[def.Name] = def
	logger.Debugf("Registered job '%s' (step '%s').", def.Name, def.Step.StepName())
	return nil
}

// JobNames returns the registered job names.
func (c *SimpleJobController) JobNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.jobs))
	for name := range c.jobs {
		names = append(names, name)
	}
	return names
}

func (c *SimpleJobController) definition(jobName string) (JobDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.jobs[jobName]
	if !ok {
		return JobDefinition{}, exception.NewBatchError(moduleName, fmt.Sprintf("job '%s' is not registered", jobName), exception.ErrJobNotRegistered, false, false)
	}
	return def, nil
}

// Run implements JobOperator.
func (c *SimpleJobController) Run(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	def, je, err := c.prepare(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	jobCtx, r := c.track(ctx, je)
	return c.execute(jobCtx, def, r)
}

// Start implements JobOperator. The execution outlives ctx; it is bounded by Close.
func (c *SimpleJobController) Start(ctx context.Context, jobName string, params model.JobParameters) (*JobExecutionFuture, error) {
	def, je, err := c.prepare(ctx, jobName, params)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	jobCtx, r := c.track(runCtx, je)
	future := newJobExecutionFuture(je.ID)
	c.inFlight.Add(1)
	submitErr := c.pool.Submit(func() {
		defer c.inFlight.Done()
		future.resolve(c.execute(jobCtx, def, r))
	})
	if submitErr != nil {
		c.inFlight.Done()
		c.untrack(r)
		logger.Errorf("Job '%s': execution (ID: %s) rejected by the execution pool: %v", jobName, je.ID, submitErr)
		se := je.StepExecutions[len(je.StepExecutions)-1]
		se.MarkAsFailed(submitErr)
		if err := c.jobRepository.UpdateStepExecution(runCtx, se); err != nil {
			logger.Errorf("Failed to persist FAILED status of rejected StepExecution (ID: %s): %v", se.ID, err)
		}
		je.MarkAsFailed(submitErr)
		if err := c.jobRepository.UpdateExecutionStatus(runCtx, je); err != nil {
			logger.Errorf("Failed to persist FAILED status of rejected JobExecution (ID: %s): %v", je.ID, err)
		}
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("job '%s' could not be started: %d executions already running", jobName, c.pool.Running()), submitErr, false, true)
	}
	logger.Infof("Job '%s' started asynchronously (Execution ID: %s).", jobName, je.ID)
	return future, nil
}

// StartNext implements JobOperator.
func (c *SimpleJobController) StartNext(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	def, err := c.definition(jobName)
	if err != nil {
		return nil, err
	}
	if def.Incrementer == nil {
		logger.Warnf("Job '%s' has no JobParametersIncrementer; running with the parameters as given.", jobName)
	} else {
		params = def.Incrementer.GetNext(params)
		logger.Infof("Generated new JobParameters using JobParametersIncrementer: %s", params.String())
	}
	return c.Run(ctx, jobName, params)
}

// Stop implements JobOperator. The execution ends STOPPED once the chunk in flight committed.
func (c *SimpleJobController) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobController: Stop called. Execution ID: %s", executionID)

	c.runningMu.Lock()
	r, ok := c.running[executionID]
	c.runningMu.Unlock()
	if !ok {
		je, err := c.jobRepository.GetJobExecution(ctx, executionID)
		if err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("Stop processing error: Failed to load JobExecution (ID: %s)", executionID), err, false, false)
		}
		if je.Status.IsFinished() {
			return exception.NewBatchError(moduleName, fmt.Sprintf("JobExecution (ID: %s) is already in a finished state (%s)", executionID, je.Status), exception.ErrJobNotRunning, false, false)
		}
		return exception.NewBatchErrorf(moduleName, "JobExecution (ID: %s) is %s but not driven by this process; abandon it if that process is gone", executionID, je.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	je := r.execution
	switch {
	case je.Status.IsFinished():
		return exception.NewBatchError(moduleName, fmt.Sprintf("JobExecution (ID: %s) is already in a finished state (%s)", executionID, je.Status), exception.ErrJobNotRunning, false, false)
	case je.Status == model.BatchStatusStopping:
		logger.Infof("JobExecution (ID: %s) is already stopping.", executionID)
		return nil
	}

	r.stop.Store(true)
	if je.Status == model.BatchStatusStarting {
		logger.Infof("JobExecution (ID: %s) will stop before its first chunk.", executionID)
		return nil
	}
	je.MarkAsStopping()
	if err := c.jobRepository.UpdateExecutionStatus(ctx, je); err != nil {
		logger.Errorf("Stop processing error: Failed to update JobExecution (ID: %s) status to STOPPING: %v", executionID, err)
		return exception.NewBatchError(moduleName, fmt.Sprintf("Stop processing error: Failed to update JobExecution (ID: %s) status", executionID), err, false, false)
	}
	logger.Infof("Sent stop signal for JobExecution (ID: %s).", executionID)
	return nil
}

// Abandon implements JobOperator. The caller asserts that the process which drove the
// execution is gone. The execution and its unfinished step become ABANDONED, which frees
// the instance; the step keeps the progress of its last committed chunk, so the next
// launch of the same parameters resumes from there.
func (c *SimpleJobController) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobController: Abandon called. Execution ID: %s", executionID)

	c.runningMu.Lock()
	_, local := c.running[executionID]
	c.runningMu.Unlock()
	if local {
		return exception.NewBatchError(moduleName, fmt.Sprintf("JobExecution (ID: %s) is driven by this process; stop it instead", executionID), exception.ErrJobExecutionAlreadyRunning, false, false)
	}

	je, err := c.jobRepository.GetJobExecution(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("Abandon processing error: Failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	switch {
	case je.Status == model.BatchStatusAbandoned:
		logger.Infof("JobExecution (ID: %s) is already in ABANDONED status.", executionID)
		return nil
	case je.Status.IsFinished():
		return exception.NewBatchError(moduleName, fmt.Sprintf("JobExecution (ID: %s) is already in a finished state (%s)", executionID, je.Status), exception.ErrJobNotRunning, false, false)
	}

	reason := fmt.Sprintf("abandoned while %s", je.Status)
	je.AbandonInFlight(reason)
	if err := c.jobRepository.UpdateExecutionStatus(ctx, je); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("Abandon processing error: Failed to update JobExecution (ID: %s) status", executionID), err, false, false)
	}
	for _, se := range je.StepExecutions {
		if se.Status.IsFinished() {
			continue
		}
		se.AbandonInFlight(reason)
		if err := c.jobRepository.UpdateStepExecution(ctx, se); err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("Abandon processing error: Failed to update StepExecution (ID: %s) status", se.ID), err, false, false)
		}
	}
	logger.Infof("Successfully abandoned JobExecution (ID: %s) of JobInstance (ID: %s).", executionID, je.JobInstanceID)
	return nil
}

// Close waits for asynchronous executions to finish. When ctx ends first the running
// executions are cancelled. The pool is released either way.
func (c *SimpleJobController) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		c.runningMu.Lock()
		for id, r := range c.running {
			logger.Warnf("Cancelling JobExecution (ID: %s) on shutdown.", id)
			r.cancel()
		}
		c.runningMu.Unlock()
		<-done
		err = ctx.Err()
	}
	c.pool.Release()
	return err
}

// prepare resolves the instance and creates the execution and its step execution. A
// restart carries the step progress of the newest previous attempt.
func (c *SimpleJobController) prepare(ctx context.Context, jobName string, params model.JobParameters) (JobDefinition, *model.JobExecution, error) {
	def, err := c.definition(jobName)
	if err != nil {
		return JobDefinition{}, nil, err
	}
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	ji, previous, err := c.jobRepository.FindOrCreateInstance(ctx, jobName, params)
	if err != nil {
		return JobDefinition{}, nil, exception.NewBatchError(moduleName, fmt.Sprintf("Failed to resolve JobInstance of '%s'", jobName), err, false, false)
	}

	je, err := c.jobRepository.CreateExecution(ctx, ji)
	if err != nil {
		logger.Warnf("Job '%s' (JobInstance ID: %s) rejected: %v", jobName, ji.ID, err)
		return JobDefinition{}, nil, exception.NewBatchError(moduleName, fmt.Sprintf("Failed to create JobExecution of '%s'", jobName), err, false, false)
	}

	se, resumed := restartStepExecution(previous, def.Step.StepName(), je.ID)
	if resumed != nil {
		logger.Infof("Restarting Job '%s' from JobExecution (ID: %s): step '%s' resumes after position %d.",
			jobName, resumed.ID, se.StepName, se.LastCommittedPosition)
	}
	je.AddStepExecution(se)
	if err := c.jobRepository.SaveStepExecution(ctx, se); err != nil {
		je.MarkAsFailed(err)
		if updErr := c.jobRepository.UpdateExecutionStatus(ctx, je); updErr != nil {
			err = exception.Append(err, updErr)
		}
		return JobDefinition{}, nil, exception.NewBatchError(moduleName, fmt.Sprintf("Failed to save StepExecution of '%s'", jobName), err, false, false)
	}
	logger.Debugf("Created JobExecution (ID: %s) for JobInstance (ID: %s).", je.ID, ji.ID)
	return def, je, nil
}

// restartStepExecution returns the step execution of a new attempt. previous is newest first.
func restartStepExecution(previous []*model.JobExecution, stepName, jobExecutionID string) (*model.StepExecution, *model.JobExecution) {
	for _, prev := range previous {
		for i := len(prev.StepExecutions) - 1; i >= 0; i-- {
			if se := prev.StepExecutions[i]; se.StepName == stepName {
				return se.CopyForRestart(jobExecutionID), prev
			}
		}
	}
	return model.NewStepExecution(stepName, jobExecutionID), nil
}

// track registers je as driven by this controller from creation on, so that Stop and
// Abandon see it before its worker runs. The returned context is cancelled by Close.
func (c *SimpleJobController) track(ctx context.Context, je *model.JobExecution) (context.Context, *runningExecution) {
	jobCtx, cancel := context.WithCancel(ctx)
	r := &runningExecution{execution: je, cancel: cancel}
	c.runningMu.Lock()
	c.running[je.ID] = r
	c.runningMu.Unlock()
	return jobCtx, r
}

func (c *SimpleJobController) untrack(r *runningExecution) {
	r.cancel()
	c.runningMu.Lock()
	delete(c.running, r.execution.ID)
	c.runningMu.Unlock()
}

// execute runs the step of the tracked execution and records the outcome. Only repository
// failures on the final status update are returned as errors.
func (c *SimpleJobController) execute(ctx context.Context, def JobDefinition, r *runningExecution) (*model.JobExecution, error) {
	defer c.untrack(r)
	je := r.execution

	spanCtx, endSpan := c.tracer.StartJobSpan(ctx, je)
	defer endSpan()
	// Status writes must land even when the job context was cancelled.
	statusCtx := context.WithoutCancel(spanCtx)
	se := je.StepExecutions[len(je.StepExecutions)-1]

	r.mu.Lock()
	je.MarkAsStarted()
	runErr := c.jobRepository.UpdateExecutionStatus(statusCtx, je)
	snapshot := je.Snapshot()
	r.mu.Unlock()

	if runErr != nil {
		runErr = exception.NewBatchError(moduleName, "failed to update JobExecution status to STARTED", runErr, false, false)
	} else {
		logger.Infof("Job '%s' (Execution ID: %s) started.", def.Name, je.ID)
		c.notify(spanCtx, def, snapshot, "BeforeJob", port.JobExecutionListener.BeforeJob)
		runErr = def.Step.Run(spanCtx, je.Parameters, se, r.stop.Load)
	}

	r.mu.Lock()
	switch {
	case runErr != nil:
		c.tracer.RecordError(spanCtx, moduleName, runErr)
		je.MarkAsFailed(runErr)
	case se.Status == model.BatchStatusStopped:
		if je.Status == model.BatchStatusStarted {
			je.MarkAsStopping()
		}
		je.MarkAsStopped()
	default:
		je.MarkAsCompleted()
	}
	updErr := c.jobRepository.UpdateExecutionStatus(statusCtx, je)
	snapshot = je.Snapshot()
	r.mu.Unlock()

	if updErr != nil {
		logger.Errorf("Failed to persist final status %s of JobExecution (ID: %s): %v", je.Status, je.ID, updErr)
	}
	logger.Infof("Job '%s' (Execution ID: %s) finished with status %s.", def.Name, je.ID, je.Status)
	c.notify(spanCtx, def, snapshot, "AfterJob", port.JobExecutionListener.AfterJob)

	if updErr != nil {
		return je, exception.NewBatchError(moduleName, fmt.Sprintf("failed to update JobExecution (ID: %s) final status", je.ID), updErr, false, false)
	}
	return je, nil
}

// notify calls hook on every listener with its own copy of snapshot. Panics are logged
// and swallowed.
func (c *SimpleJobController) notify(ctx context.Context, def JobDefinition, snapshot *model.JobExecution, name string, hook func(port.JobExecutionListener, context.Context, *model.JobExecution)) {
	listeners := make([]port.JobExecutionListener, 0, len(c.listeners)+len(def.Listeners))
	listeners = append(listeners, c.listeners...)
	listeners = append(listeners, def.Listeners...)
	for _, l := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Errorf("JobExecutionListener %T panicked in %s of JobExecution (ID: %s): %v", l, name, snapshot.ID, p)
				}
			}()
			hook(l, ctx, snapshot.Snapshot())
		}()
	}
}

// IsLaunchRejection reports whether err rejected a launch before any work started:
// the instance is complete or another execution of it is running.
func IsLaunchRejection(err error) bool {
	return errors.Is(err, exception.ErrInstanceAlreadyComplete) || errors.Is(err, exception.ErrJobExecutionAlreadyRunning)
}
