package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	configKey          = "observability"
	minMetricsInterval = time.Second
)

type moduleOptions struct {
	static         *Config
	disableTracing bool
	disableMetrics bool
}

type Option func(*moduleOptions)

// WithConfig skips viper and uses cfg.
func WithConfig(cfg Config) Option {
	return func(o *moduleOptions) { o.static = &cfg }
}

// WithDisableTracing turns tracing off whatever the config says.
func WithDisableTracing() Option {
	return func(o *moduleOptions) { o.disableTracing = true }
}

// WithDisableMetrics turns metrics off whatever the config says.
func WithDisableMetrics() Option {
	return func(o *moduleOptions) { o.disableMetrics = true }
}

// NewObservabilityConfigModule provides Config from the observability
// section of viper.
func NewObservabilityConfigModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return fx.Options(
		fx.Supply(o),
		fx.Provide(provideConfig),
	)
}

func provideConfig(o *moduleOptions, v *viper.Viper, log *zap.Logger) (Config, error) {
	cfg, err := load(o, v)
	if err != nil {
		return cfg, err
	}
	if o.disableTracing {
		cfg.Tracing.Enabled = false
	}
	if o.disableMetrics {
		cfg.Metrics.Enabled = false
	}
	if err := validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid observability config: %w", err)
	}

	log.Info("loaded observability config",
		zap.String("collector", cfg.OtelCollectorEndpoint),
		zap.Bool("tracing", cfg.Tracing.Enabled),
		zap.Float64("sampleRatio", cfg.Tracing.SampleRatio),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Duration("metricsInterval", cfg.Metrics.Interval))
	return cfg, nil
}

func load(o *moduleOptions, v *viper.Viper) (Config, error) {
	var cfg Config
	switch {
	case o.static != nil:
		cfg = *o.static
	case v.Sub(configKey) != nil:
		if err := v.Sub(configKey).Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to load observability config: %w", err)
		}
	}

	if cfg.Metrics.Interval <= 0 {
		cfg.Metrics.Interval = DefaultMetricsInterval
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultSampleRatio
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample-ratio must be within [0, 1], got %v", cfg.Tracing.SampleRatio)
	}
	if cfg.Metrics.Interval < minMetricsInterval {
		return errors.New("metrics.interval must be at least 1s")
	}
	return nil
}
