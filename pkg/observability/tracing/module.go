package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"

	appconfig "github.com/Sokol111/ecommerce-resilience/pkg/core/config"
	otelconfig "github.com/Sokol111/ecommerce-resilience/pkg/observability/config"
)

// providerParams holds dependencies for tracing provider.
type providerParams struct {
	fx.In
	Lc     fx.Lifecycle
	Log    *zap.Logger
	Cfg    otelconfig.Config
	AppCfg appconfig.AppConfig
}

// NewTracingModule provides a trace.TracerProvider. When tracing is disabled
// it is a noop provider. The W3C propagator is installed either way so
// trace context still flows through the transport and the offline queue.
func NewTracingModule() fx.Option {
	return fx.Options(
		fx.Provide(func(p providerParams) (trace.TracerProvider, error) {
			if !p.Cfg.Tracing.Enabled {
				p.Log.Info("tracing: disabled")
				installPropagator()
				return noop.NewTracerProvider(), nil
			}
			return provideTracerProvider(p)
		}),
		fx.Invoke(func(trace.TracerProvider) {}),
	)
}

func installPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func provideTracerProvider(p providerParams) (trace.TracerProvider, error) {
	tp, err := newTracerProvider(context.Background(), p.Log, p.Cfg, p.AppCfg)
	if err != nil {
		return nil, err
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			otel.SetTracerProvider(tp)
			installPropagator()
			p.Log.Info("tracing initialized",
				zap.String("endpoint", p.Cfg.OtelCollectorEndpoint),
				zap.Float64("sample_ratio", p.Cfg.Tracing.SampleRatio))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, otelconfig.DefaultShutdownTimeout)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		},
	})

	return tp, nil
}
