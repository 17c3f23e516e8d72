package observability

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	appconfig "github.com/Sokol111/ecommerce-resilience/pkg/core/config"
	otelconfig "github.com/Sokol111/ecommerce-resilience/pkg/observability/config"
)

func TestNewObservabilityModule_Disabled(t *testing.T) {
	var (
		tp  trace.TracerProvider
		mp  metric.MeterProvider
		cfg otelconfig.Config
	)
	app := fxtest.New(t,
		fx.Supply(appconfig.AppConfig{ServiceName: "admin"}, zap.NewNop(), viper.New()),
		NewObservabilityModule(
			WithConfig(otelconfig.Config{
				OtelCollectorEndpoint: "collector:4317",
				Tracing:               otelconfig.TracingConfig{Enabled: true},
				Metrics:               otelconfig.MetricsConfig{Enabled: true},
			}),
			WithoutTracing(),
			WithoutMetrics(),
		),
		fx.Populate(&tp, &mp, &cfg),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.IsType(t, tracenoop.TracerProvider{}, tp)
	assert.IsType(t, metricnoop.MeterProvider{}, mp)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "collector:4317", cfg.OtelCollectorEndpoint)
	assert.Equal(t, otelconfig.DefaultSampleRatio, cfg.Tracing.SampleRatio)
}

func TestNewObservabilityModule_FromViper(t *testing.T) {
	v := viper.New()
	v.Set("observability.tracing.sample-ratio", 0.25)

	var cfg otelconfig.Config
	app := fxtest.New(t,
		fx.Supply(appconfig.AppConfig{ServiceName: "admin"}, zap.NewNop(), v),
		NewObservabilityModule(),
		fx.Populate(&cfg),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
	assert.Equal(t, otelconfig.DefaultMetricsInterval, cfg.Metrics.Interval)
}
