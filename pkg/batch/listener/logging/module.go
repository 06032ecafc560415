package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
)

// Module contributes the logging listeners to the listener groups consumed by the job controller.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewLoggingJobListener, fx.As(new(port.JobExecutionListener)), fx.ResultTags(`group:"jobListeners"`)),
		fx.Annotate(NewLoggingChunkListener, fx.As(new(port.ChunkListener)), fx.ResultTags(`group:"chunkListeners"`)),
		fx.Annotate(NewLoggingSkipListener, fx.As(new(port.SkipListener)), fx.ResultTags(`group:"skipListeners"`)),
	),
)
