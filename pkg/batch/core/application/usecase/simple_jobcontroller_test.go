package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/core/support/incrementer"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	batchtest "github.com/tigerroll/batchimport/pkg/batch/test"
)

const (
	jobName  = "numbersJob"
	stepName = "numbersStep"
)

// harness wires a controller over the in-memory repository. Every execution gets a
// stream from newStream, and all committed records land in sink.
type harness struct {
	repo       *inmemory.InMemoryJobRepository
	controller *usecase.SimpleJobController
	sink       *batchtest.RecordingSink[int]

	mu        sync.Mutex
	streams   []*batchtest.GeneratedStream[int]
	newStream func(n int) *batchtest.GeneratedStream[int]
}

type harnessConfig struct {
	records   int64
	chunkSize int
	processor port.ItemProcessor[int, int]
	options   item.Options
	listeners []port.JobExecutionListener
	poolSize  int
	inc       port.JobParametersIncrementer
}

func identity() port.ItemProcessor[int, int] {
	return port.ItemProcessorFunc[int, int](func(ctx context.Context, v int) (int, error) { return v, nil })
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.processor == nil {
		cfg.processor = identity()
	}
	h := &harness{
		repo: inmemory.NewInMemoryJobRepository(),
		sink: batchtest.NewRecordingSink[int](),
	}
	h.newStream = func(int) *batchtest.GeneratedStream[int] {
		return batchtest.NewGeneratedStream(cfg.records, func(p int64) int { return int(p) })
	}

	step, err := item.NewChunkStep[int, int](stepName, cfg.chunkSize, cfg.processor, h.sink, h.repo, tx.NewLocalTransactionManager(), cfg.options)
	require.NoError(t, err)

	h.controller, err = usecase.NewSimpleJobController(h.repo, usecase.ControllerOptions{
		AsyncPoolSize: cfg.poolSize,
		Listeners:     cfg.listeners,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.controller.Close(context.Background()) })

	require.NoError(t, h.controller.Register(usecase.JobDefinition{
		Name:        jobName,
		Incrementer: cfg.inc,
		Step: usecase.NewChunkStepRunner[int, int](step, func(ctx context.Context, params model.JobParameters) (port.RecordStream[int], error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			s := h.newStream(len(h.streams))
			h.streams = append(h.streams, s)
			return s, nil
		}),
	}))
	return h
}

func (h *harness) stream(i int) *batchtest.GeneratedStream[int] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[i]
}

func params(run string) model.JobParameters {
	return batchtest.NewTestJobParameters(map[string]string{"input.file.name": "numbers.csv", "run": run})
}

func TestRunCommitsEveryChunk(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 150000, chunkSize: 65000})

	je, err := h.controller.Run(context.Background(), jobName, params("150k"))
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	assert.Equal(t, []int{65000, 65000, 20000}, h.sink.BatchSizes())

	require.Len(t, je.StepExecutions, 1)
	se := je.StepExecutions[0]
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, 150000, se.ReadCount)
	assert.Equal(t, 150000, se.WriteCount)
	assert.Zero(t, se.SkipCount)
	assert.Equal(t, int64(150000), se.LastCommittedPosition)

	stored, err := h.repo.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndTime)
}

func TestRunRejectsCompletedInstance(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 5, chunkSize: 2})
	ctx := context.Background()

	_, err := h.controller.Run(ctx, jobName, params("once"))
	require.NoError(t, err)

	// Parameter order does not matter for the instance identity.
	again := batchtest.NewTestJobParameters(map[string]string{"run": "once", "input.file.name": "numbers.csv"})
	je, err := h.controller.Run(ctx, jobName, again)
	assert.Nil(t, je)
	assert.ErrorIs(t, err, exception.ErrInstanceAlreadyComplete)
	assert.True(t, usecase.IsLaunchRejection(err))
	assert.Equal(t, 3, h.sink.Calls(), "the rejected run did no work")
}

func TestRunUnknownJob(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 1, chunkSize: 1})
	_, err := h.controller.Run(context.Background(), "missingJob", params("x"))
	assert.ErrorIs(t, err, exception.ErrJobNotRegistered)
}

func TestRegisterRejectsDuplicatesAndIncompleteDefinitions(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 1, chunkSize: 1})
	assert.Error(t, h.controller.Register(usecase.JobDefinition{Name: jobName, Step: h.controllerStep(t)}))
	assert.Error(t, h.controller.Register(usecase.JobDefinition{Name: "noStep"}))
	assert.Equal(t, []string{jobName}, h.controller.JobNames())
}

func (h *harness) controllerStep(t *testing.T) usecase.StepRunner {
	step, err := item.NewChunkStep[int, int](stepName, 1, identity(), h.sink, h.repo, tx.NewLocalTransactionManager(), item.Options{})
	require.NoError(t, err)
	return usecase.NewChunkStepRunner[int, int](step, func(ctx context.Context, p model.JobParameters) (port.RecordStream[int], error) {
		return batchtest.NewSliceStream([]int{1}), nil
	})
}

func TestRestartResumesAfterLastCommittedChunk(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 30, chunkSize: 10})
	base := h.newStream
	h.newStream = func(n int) *batchtest.GeneratedStream[int] {
		s := base(n)
		if n == 0 {
			s.CrashAfter = 20
		}
		return s
	}
	ctx := context.Background()

	failed, err := h.controller.Run(ctx, jobName, params("restart"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, failed.Status)
	assert.Contains(t, failed.ExitDescription, "simulated crash")
	assert.Equal(t, []int{10, 10}, h.sink.BatchSizes())
	assert.Equal(t, int64(20), failed.StepExecutions[0].LastCommittedPosition)

	restarted, err := h.controller.Run(ctx, jobName, params("restart"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, failed.JobInstanceID, restarted.JobInstanceID)

	assert.Equal(t, []int64{21}, h.stream(1).FirstReadPositions(), "committed records are not read again")
	records := h.sink.Records()
	require.Len(t, records, 30)
	for i, v := range records {
		assert.Equal(t, i+1, v, "each record committed exactly once")
	}
	se := restarted.StepExecutions[0]
	assert.Equal(t, 30, se.WriteCount)
	assert.Equal(t, 3, se.CommitCount)

	previous, err := h.repo.GetJobExecution(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, previous.Status)

	_, err = h.controller.Run(ctx, jobName, params("restart"))
	assert.ErrorIs(t, err, exception.ErrInstanceAlreadyComplete)
}

func TestFailFastLeavesChunkUncommitted(t *testing.T) {
	rejectAt := port.ItemProcessorFunc[int, int](func(ctx context.Context, v int) (int, error) {
		if v == 15 {
			return 0, &exception.ValidationError{Field: "value", Message: "must not be 15"}
		}
		return v, nil
	})
	h := newHarness(t, harnessConfig{records: 30, chunkSize: 10, processor: rejectAt})

	je, err := h.controller.Run(context.Background(), jobName, params("failfast"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Contains(t, je.ExitDescription, "must not be 15")
	assert.Equal(t, []int{10}, h.sink.BatchSizes())
	assert.Equal(t, 10, je.StepExecutions[0].WriteCount)
	assert.Equal(t, int64(10), je.StepExecutions[0].LastCommittedPosition)
}

func TestStopEndsAtChunkBoundary(t *testing.T) {
	var (
		h       *harness
		stopErr error
	)
	chunks := &batchtest.RecordingChunkListener{StopAfter: 1}
	chunks.OnStop = func() {
		ctx := context.Background()
		ji, err := h.repo.FindJobInstance(ctx, jobName, params("stop"))
		if err != nil {
			stopErr = err
			return
		}
		executions, err := h.repo.FindJobExecutions(ctx, ji.ID)
		if err != nil {
			stopErr = err
			return
		}
		stopErr = h.controller.Stop(ctx, executions[0].ID)
	}
	h = newHarness(t, harnessConfig{records: 30, chunkSize: 10, options: item.Options{ChunkListeners: []port.ChunkListener{chunks}}})
	ctx := context.Background()

	stopped, err := h.controller.Run(ctx, jobName, params("stop"))
	require.NoError(t, err)
	require.NoError(t, stopErr)
	assert.Equal(t, model.BatchStatusStopped, stopped.Status)
	assert.Equal(t, model.BatchStatusStopped, stopped.StepExecutions[0].Status)
	assert.Equal(t, []int{10}, h.sink.BatchSizes())

	err = h.controller.Stop(ctx, stopped.ID)
	assert.ErrorIs(t, err, exception.ErrJobNotRunning)

	resumed, err := h.controller.Run(ctx, jobName, params("stop"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, []int64{11}, h.stream(1).FirstReadPositions())
	assert.Len(t, h.sink.Records(), 30)
}

func TestStartResolvesFuture(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 25, chunkSize: 10})
	ctx := context.Background()

	future, err := h.controller.Start(ctx, jobName, params("async"))
	require.NoError(t, err)
	require.NotEmpty(t, future.ExecutionID())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	je, err := future.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, future.ExecutionID(), je.ID)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	select {
	case <-future.Done():
	default:
		t.Fatal("future not done after Wait returned")
	}

	stored, err := usecase.NewSimpleJobExplorer(h.repo).GetLastStepExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, stored.WriteCount)
}

func TestStartRejectsConcurrentAndOverflowingLaunches(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 4, chunkSize: 2, poolSize: 1})
	block := make(chan struct{})
	h.sink.Block = block
	ctx := context.Background()

	first, err := h.controller.Start(ctx, jobName, params("busy"))
	require.NoError(t, err)

	_, err = h.controller.Start(ctx, jobName, params("busy"))
	assert.ErrorIs(t, err, exception.ErrJobExecutionAlreadyRunning)

	_, err = h.controller.Start(ctx, jobName, params("overflow"))
	require.Error(t, err)
	assert.False(t, usecase.IsLaunchRejection(err))

	close(block)
	je, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	ji, err := h.repo.FindJobInstance(ctx, jobName, params("overflow"))
	require.NoError(t, err)
	executions, err := h.repo.FindJobExecutions(ctx, ji.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, model.BatchStatusFailed, executions[0].Status, "a rejected submission can be restarted")
	require.Len(t, executions[0].StepExecutions, 1)
	assert.Equal(t, model.BatchStatusFailed, executions[0].StepExecutions[0].Status)
	assert.NotNil(t, executions[0].StepExecutions[0].EndTime)
}

func TestListenersObserveSnapshotsAndCannotBreakTheJob(t *testing.T) {
	panicking := &batchtest.RecordingJobListener{PanicOnAfter: true}
	observer := &batchtest.RecordingJobListener{}
	h := newHarness(t, harnessConfig{records: 3, chunkSize: 2, listeners: []port.JobExecutionListener{panicking, observer}})

	je, err := h.controller.Run(context.Background(), jobName, params("listeners"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	before, after := observer.Counts()
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
	assert.Equal(t, model.BatchStatusStarted, observer.Before[0].Status)
	assert.Equal(t, model.BatchStatusCompleted, observer.After[0].Status)
	assert.Equal(t, 3, observer.After[0].StepExecutions[0].WriteCount)

	observer.After[0].Status = model.BatchStatusFailed
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.NotSame(t, panicking.After[0], observer.After[0])
}

func TestStartNextCreatesNewInstances(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 2, chunkSize: 2, inc: incrementer.NewUIDIncrementer("")})
	ctx := context.Background()

	first, err := h.controller.StartNext(ctx, jobName, params("next"))
	require.NoError(t, err)
	second, err := h.controller.StartNext(ctx, jobName, params("next"))
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.NotEqual(t, first.JobInstanceID, second.JobInstanceID)
	uid, ok := second.Parameters.GetString("uid")
	assert.True(t, ok)
	assert.NotEmpty(t, uid)
}

func TestStepFailureIsTheOutcomeNotALaunchError(t *testing.T) {
	h := newHarness(t, harnessConfig{records: 4, chunkSize: 2})
	h.sink.FailOnCall = 2
	h.sink.FailWith = errors.New("duplicate key")

	je, err := h.controller.Run(context.Background(), jobName, params("sinkfail"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Contains(t, je.ExitDescription, "duplicate key")
	assert.Equal(t, []int{2}, h.sink.BatchSizes())
}
