// Package model defines the execution model of the import engine: job instances,
// job executions, step executions and their lifecycle.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// JobInstance is the logical identity of one run: a job name plus the hash of its identifying parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a new JobInstance for jobName and params.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: params.Hash(),
		CreateTime:     time.Now(),
	}
}

// JobExecution is one attempt to run a JobInstance.
type JobExecution struct {
	ID              string
	JobInstanceID   string
	JobName         string
	Parameters      JobParameters
	Status          JobStatus
	ExitStatus      ExitStatus
	ExitDescription string
	CreateTime      time.Time
	StartTime       *time.Time
	EndTime         *time.Time
	LastUpdated     time.Time
	Version         int
	StepExecutions  []*StepExecution
}

// NewJobExecution creates a JobExecution in STARTING state.
func NewJobExecution(instance *JobInstance) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:             NewID(),
		JobInstanceID:  instance.ID,
		JobName:        instance.JobName,
		Parameters:     instance.Parameters,
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		CreateTime:     now,
		LastUpdated:    now,
		StepExecutions: make([]*StepExecution, 0, 1),
	}
}

// TransitionTo moves the execution to newStatus if the lifecycle allows it.
// Only Status and LastUpdated are changed.
func (je *JobExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidTransition(je.Status, newStatus) {
		return &InvalidTransitionError{Kind: "JobExecution", ID: je.ID, From: je.Status, To: newStatus}
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

func (je *JobExecution) forceStatus(newStatus JobStatus) {
	if err := je.TransitionTo(newStatus); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to %s: %v", je.ID, newStatus, err)
		je.Status = newStatus
		je.LastUpdated = time.Now()
	}
}

func (je *JobExecution) finish(status JobStatus, description string) {
	je.forceStatus(status)
	je.ExitStatus = status.ToExitStatus()
	je.ExitDescription = description
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// MarkAsStarted moves the execution to STARTED and stamps the start time.
func (je *JobExecution) MarkAsStarted() {
	je.forceStatus(BatchStatusStarted)
	je.ExitStatus = ExitStatusExecuting
	now := time.Now()
	je.StartTime = &now
}

// MarkAsStopping records that a stop was requested.
func (je *JobExecution) MarkAsStopping() {
	je.forceStatus(BatchStatusStopping)
}

// MarkAsCompleted moves the execution to COMPLETED.
func (je *JobExecution) MarkAsCompleted() {
	je.finish(BatchStatusCompleted, "")
}

// MarkAsFailed moves the execution to FAILED and records err as the exit description.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed, exception.ExitDescription(err))
}

// MarkAsStopped moves the execution to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped, "stopped between chunks on request")
}

// MarkAsAbandoned moves a FAILED or STOPPED execution to ABANDONED once a restart supersedes it.
func (je *JobExecution) MarkAsAbandoned(byExecutionID string) {
	je.forceStatus(BatchStatusAbandoned)
	je.ExitStatus = ExitStatusAbandoned
	if byExecutionID != "" {
		je.ExitDescription = "superseded by execution " + byExecutionID
	}
	je.LastUpdated = time.Now()
}

// AbandonInFlight moves a STARTING, STARTED or STOPPING execution whose process is gone
// to ABANDONED, which releases its instance for a restart.
func (je *JobExecution) AbandonInFlight(reason string) {
	je.finish(BatchStatusAbandoned, reason)
}

// AddStepExecution attaches se to the execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// Duration returns the elapsed time between start and end, or until now while running.
func (je *JobExecution) Duration() time.Duration {
	if je.StartTime == nil {
		return 0
	}
	if je.EndTime == nil {
		return time.Since(*je.StartTime)
	}
	return je.EndTime.Sub(*je.StartTime)
}

// Snapshot returns a copy safe to hand to observers. Step executions are copied too.
func (je *JobExecution) Snapshot() *JobExecution {
	cp := *je
	cp.StepExecutions = make([]*StepExecution, len(je.StepExecutions))
	for i, se := range je.StepExecutions {
		s := *se
		cp.StepExecutions[i] = &s
	}
	return &cp
}

// StepProgress is the durable progress of a step written after each committed chunk.
type StepProgress struct {
	ReadCount     int
	WriteCount    int
	SkipCount     int
	FilterCount   int
	CommitCount   int
	RollbackCount int
	// LastCommittedPosition is the stream position of the last record covered by a committed chunk.
	LastCommittedPosition int64
}

// StepExecution is one attempt to run the step of a JobExecution.
type StepExecution struct {
	ID              string
	StepName        string
	JobExecutionID  string
	Status          JobStatus
	ExitStatus      ExitStatus
	ExitDescription string
	StepProgress
	StartTime   *time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Version     int
}

// NewStepExecution creates a StepExecution in STARTING state for a fresh run.
func NewStepExecution(stepName string, jobExecutionID string) *StepExecution {
	return &StepExecution{
		ID:             NewID(),
		StepName:       stepName,
		JobExecutionID: jobExecutionID,
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		LastUpdated:    time.Now(),
	}
}

// CopyForRestart creates the StepExecution of a restart attempt. Counters and the
// restart cursor are carried over so that the new attempt resumes after the last commit.
func (se *StepExecution) CopyForRestart(newJobExecutionID string) *StepExecution {
	next := NewStepExecution(se.StepName, newJobExecutionID)
	next.StepProgress = se.StepProgress
	return next
}

// TransitionTo moves the step to newStatus if the lifecycle allows it.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidTransition(se.Status, newStatus) {
		return &InvalidTransitionError{Kind: "StepExecution", ID: se.ID, From: se.Status, To: newStatus}
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

func (se *StepExecution) finish(status JobStatus, description string) {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, status, err)
		se.Status = status
	}
	se.ExitStatus = status.ToExitStatus()
	se.ExitDescription = description
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// MarkAsStarted moves the step to STARTED.
func (se *StepExecution) MarkAsStarted() {
	if err := se.TransitionTo(BatchStatusStarted); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to STARTED: %v", se.ID, err)
		se.Status = BatchStatusStarted
	}
	se.ExitStatus = ExitStatusExecuting
	now := time.Now()
	se.StartTime = &now
	se.LastUpdated = now
}

// MarkAsCompleted moves the step to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted, "")
}

// MarkAsFailed moves the step to FAILED with err as exit description.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed, exception.ExitDescription(err))
}

// AbandonInFlight moves an unfinished step to ABANDONED. Its progress is kept for the restart.
func (se *StepExecution) AbandonInFlight(reason string) {
	se.finish(BatchStatusAbandoned, reason)
}

// MarkAsStopped moves the step to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	if se.Status == BatchStatusStarted {
		se.Status = BatchStatusStopping
	}
	se.finish(BatchStatusStopped, "stopped between chunks on request")
}
