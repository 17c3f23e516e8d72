// Package observability provides the OpenTelemetry tracer and meter providers
// used by the transport, the pipeline and the offline queue.
//
//	fx.New(
//	    core.NewCoreModule(),
//	    observability.NewObservabilityModule(),
//	    http.NewResilienceModule(),
//	)
//
// The resilience module picks the providers up when this module is present
// and falls back to the otel globals otherwise. Tests usually turn both off:
//
//	observability.NewObservabilityModule(observability.WithoutTracing(), observability.WithoutMetrics())
package observability

import (
	"go.uber.org/fx"

	"github.com/Sokol111/ecommerce-resilience/pkg/observability/config"
	"github.com/Sokol111/ecommerce-resilience/pkg/observability/metrics"
	"github.com/Sokol111/ecommerce-resilience/pkg/observability/tracing"
)

type Option func(*[]config.Option)

// WithConfig uses cfg instead of the observability section of viper.
func WithConfig(cfg config.Config) Option {
	return func(opts *[]config.Option) { *opts = append(*opts, config.WithConfig(cfg)) }
}

// WithoutTracing provides a noop tracer provider whatever the config says.
func WithoutTracing() Option {
	return func(opts *[]config.Option) { *opts = append(*opts, config.WithDisableTracing()) }
}

// WithoutMetrics provides a noop meter provider whatever the config says.
func WithoutMetrics() Option {
	return func(opts *[]config.Option) { *opts = append(*opts, config.WithDisableMetrics()) }
}

// NewObservabilityModule provides config.Config, trace.TracerProvider and
// metric.MeterProvider.
func NewObservabilityModule(opts ...Option) fx.Option {
	var configOpts []config.Option
	for _, opt := range opts {
		opt(&configOpts)
	}
	return fx.Module("observability",
		config.NewObservabilityConfigModule(configOpts...),
		tracing.NewTracingModule(),
		metrics.NewMetricsModule(),
	)
}
