package web

import (
	"context"
	"net/http"

	"go.uber.org/fx"

	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
	inframetrics "github.com/tigerroll/batchimport/pkg/batch/infrastructure/metrics"
)

type handlerParams struct {
	fx.In

	Operator      usecase.JobOperator
	Explorer      usecase.JobExplorer
	MetricsConfig *config.MetricsConfig            `optional:"true"`
	Recorder      *inframetrics.PrometheusRecorder `optional:"true"`
}

func newHandler(p handlerParams) *Handler {
	var metricsHandler http.Handler
	if p.Recorder != nil && (p.MetricsConfig == nil || p.MetricsConfig.Enabled) {
		metricsHandler = p.Recorder.Handler()
	}
	return NewHandler(p.Operator, p.Explorer, metricsHandler)
}

func registerServer(lc fx.Lifecycle, cfg *config.WebConfig, h *Handler) {
	if !cfg.Enabled {
		return
	}
	srv := NewServer(cfg.ListenAddress, h)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return srv.Start() },
		OnStop:  srv.Shutdown,
	})
}

// Module provides the admin Handler and serves it on web.listen_address when web.enabled is set.
var Module = fx.Options(
	fx.Provide(newHandler),
	fx.Invoke(registerServer),
)
