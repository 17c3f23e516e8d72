package config

import "time"

const (
	// DefaultMetricsInterval is the default metrics export interval.
	DefaultMetricsInterval = 10 * time.Second

	// DefaultSampleRatio samples every root trace.
	DefaultSampleRatio = 1.0

	// DefaultShutdownTimeout bounds flushing exporters on stop.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultRuntimeStatsInterval is the minimum interval between runtime memory reads.
	DefaultRuntimeStatsInterval = time.Second
)

// Config is the observability section:
//
//	observability:
//	  otel-collector-endpoint: otel-collector:4317
//	  tracing:
//	    enabled: true
//	    sample-ratio: 0.2
//	  metrics:
//	    enabled: true
//	    interval: 10s
type Config struct {
	OtelCollectorEndpoint string        `mapstructure:"otel-collector-endpoint"`
	Tracing               TracingConfig `mapstructure:"tracing"`
	Metrics               MetricsConfig `mapstructure:"metrics"`
}

// TracingConfig holds tracing-specific configuration.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample-ratio"`
}

// MetricsConfig holds metrics-specific configuration.
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}
