package test

import (
	"context"
	"sync"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// RecordingJobListener records the snapshots it is notified with.
type RecordingJobListener struct {
	mu     sync.Mutex
	Before []*model.JobExecution
	After  []*model.JobExecution
	// PanicOnAfter makes AfterJob panic after recording.
	PanicOnAfter bool
}

// BeforeJob implements port.JobExecutionListener.
func (l *RecordingJobListener) BeforeJob(ctx context.Context, je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Before = append(l.Before, je)
}

// AfterJob implements port.JobExecutionListener.
func (l *RecordingJobListener) AfterJob(ctx context.Context, je *model.JobExecution) {
	l.mu.Lock()
	l.After = append(l.After, je)
	l.mu.Unlock()
	if l.PanicOnAfter {
		panic("listener failure")
	}
}

// Counts returns the number of before and after notifications.
func (l *RecordingJobListener) Counts() (before, after int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Before), len(l.After)
}

var _ port.JobExecutionListener = (*RecordingJobListener)(nil)

// RecordingChunkListener counts chunk notifications.
type RecordingChunkListener struct {
	mu                     sync.Mutex
	BeforeN, AfterN, Error int
	// StopAfter, when set, is invoked after the given number of committed chunks.
	StopAfter int
	OnStop    func()
}

// BeforeChunk implements port.ChunkListener.
func (l *RecordingChunkListener) BeforeChunk(ctx context.Context, se *model.StepExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.BeforeN++
}

// AfterChunk implements port.ChunkListener.
func (l *RecordingChunkListener) AfterChunk(ctx context.Context, se *model.StepExecution) {
	l.mu.Lock()
	l.AfterN++
	trigger := l.StopAfter > 0 && l.AfterN == l.StopAfter && l.OnStop != nil
	l.mu.Unlock()
	if trigger {
		l.OnStop()
	}
}

// OnChunkError implements port.ChunkListener.
func (l *RecordingChunkListener) OnChunkError(ctx context.Context, se *model.StepExecution, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Error++
}

var _ port.ChunkListener = (*RecordingChunkListener)(nil)
