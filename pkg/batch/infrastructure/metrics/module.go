package metrics

import (
	"context"

	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
	metrics "github.com/tigerroll/batchimport/pkg/batch/core/metrics"
)

// newTracer builds the OpenTelemetry tracer. A disabled tracing section yields the noop provider.
func newTracer(lc fx.Lifecycle, cfg *config.TracingConfig) (metrics.Tracer, error) {
	if !cfg.Enabled {
		return NewOpenTelemetryTracer(noop.NewTracerProvider()), nil
	}
	tp, err := NewTracerProvider(context.Background(), *cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return NewOpenTelemetryTracer(tp), nil
}

// registerMetricsServer serves /metrics on metrics.listen_address when the web surface,
// which serves it too, is disabled.
func registerMetricsServer(lc fx.Lifecycle, metricsCfg *config.MetricsConfig, webCfg *config.WebConfig, recorder *PrometheusRecorder) {
	if !metricsCfg.Enabled || webCfg.Enabled || metricsCfg.ListenAddress == "" {
		return
	}
	srv := NewServer(metricsCfg.ListenAddress, recorder)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

// Module provides PrometheusRecorder (also as metrics.MetricRecorder) and the OpenTelemetry tracer.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
	fx.Provide(newTracer),
	fx.Invoke(registerMetricsServer),
)
