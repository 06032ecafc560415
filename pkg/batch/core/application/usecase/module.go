package usecase

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchimport/pkg/batch/core/metrics"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/item"
)

// ControllerParams are the fx inputs of the job controller.
type ControllerParams struct {
	fx.In

	Lifecycle     fx.Lifecycle
	JobRepository repository.JobRepository
	Config        *config.ImportConfig        `optional:"true"`
	Tracer        metrics.Tracer              `optional:"true"`
	Listeners     []port.JobExecutionListener `group:"jobListeners"`
}

// NewJobControllerFromParams builds the controller and closes it on application stop.
func NewJobControllerFromParams(p ControllerParams) (*SimpleJobController, error) {
	opts := ControllerOptions{Listeners: p.Listeners, Tracer: p.Tracer}
	if p.Config != nil {
		opts.AsyncPoolSize = p.Config.AsyncPoolSize
	}
	c, err := NewSimpleJobController(p.JobRepository, opts)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return c.Close(ctx) },
	})
	return c, nil
}

// StepOptionsParams collects the chunk step collaborators contributed by other modules.
type StepOptionsParams struct {
	fx.In

	ChunkListeners []port.ChunkListener   `group:"chunkListeners"`
	SkipListeners  []port.SkipListener    `group:"skipListeners"`
	MetricRecorder metrics.MetricRecorder `optional:"true"`
	Tracer         metrics.Tracer         `optional:"true"`
}

// NewStepOptions returns chunk step options carrying the contributed listeners and backends.
// Applications add their skip and retry policies.
func NewStepOptions(p StepOptionsParams) item.Options {
	return item.Options{
		ChunkListeners: p.ChunkListeners,
		SkipListeners:  p.SkipListeners,
		MetricRecorder: p.MetricRecorder,
		Tracer:         p.Tracer,
	}
}

// Module is the Fx module for the job controller and the job explorer.
var Module = fx.Options(
	fx.Provide(NewJobControllerFromParams),
	fx.Provide(func(c *SimpleJobController) JobOperator { return c }),
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
	fx.Provide(NewStepOptions),
)
