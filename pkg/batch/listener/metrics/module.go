package metrics

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
)

// Module contributes the metrics listener to the job listener group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewMetricsJobListener, fx.As(new(port.JobExecutionListener)), fx.ResultTags(`group:"jobListeners"`)),
	),
)
