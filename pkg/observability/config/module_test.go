package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProvideConfig(t *testing.T) {
	tests := []struct {
		name string
		opts *moduleOptions
		set  map[string]any
		want Config
	}{
		{
			name: "defaults without section",
			opts: &moduleOptions{},
			want: Config{
				Tracing: TracingConfig{SampleRatio: DefaultSampleRatio},
				Metrics: MetricsConfig{Interval: DefaultMetricsInterval},
			},
		},
		{
			name: "from viper",
			opts: &moduleOptions{},
			set: map[string]any{
				"observability.otel-collector-endpoint": "collector:4317",
				"observability.tracing.enabled":         true,
				"observability.tracing.sample-ratio":    0.5,
				"observability.metrics.enabled":         true,
				"observability.metrics.interval":        "30s",
			},
			want: Config{
				OtelCollectorEndpoint: "collector:4317",
				Tracing:               TracingConfig{Enabled: true, SampleRatio: 0.5},
				Metrics:               MetricsConfig{Enabled: true, Interval: 30 * time.Second},
			},
		},
		{
			name: "disable options win",
			opts: &moduleOptions{disableTracing: true, disableMetrics: true},
			set: map[string]any{
				"observability.tracing.enabled": true,
				"observability.metrics.enabled": true,
			},
			want: Config{
				Tracing: TracingConfig{SampleRatio: DefaultSampleRatio},
				Metrics: MetricsConfig{Interval: DefaultMetricsInterval},
			},
		},
		{
			name: "static config",
			opts: &moduleOptions{static: &Config{Tracing: TracingConfig{Enabled: true}}},
			want: Config{
				Tracing: TracingConfig{Enabled: true, SampleRatio: DefaultSampleRatio},
				Metrics: MetricsConfig{Interval: DefaultMetricsInterval},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			got, err := provideConfig(tt.opts, v, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvideConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]any
		wantErr string
	}{
		{
			name:    "sample ratio above one",
			set:     map[string]any{"observability.tracing.sample-ratio": 1.5},
			wantErr: "sample-ratio",
		},
		{
			name:    "negative sample ratio",
			set:     map[string]any{"observability.tracing.sample-ratio": -0.1},
			wantErr: "sample-ratio",
		},
		{
			name:    "metrics interval too short",
			set:     map[string]any{"observability.metrics.interval": "100ms"},
			wantErr: "metrics.interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := provideConfig(&moduleOptions{}, v, zap.NewNop())
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
