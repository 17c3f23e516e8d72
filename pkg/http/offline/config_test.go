package offline

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return v
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(viper.New())

	require.NoError(t, err)
	assert.True(t, *cfg.Enabled)
	assert.Equal(t, DefaultStorageKey, *cfg.StorageKey)
	assert.Equal(t, DefaultTTL, *cfg.TTL)
	assert.Equal(t, DefaultMaxSize, *cfg.MaxSize)
	assert.Equal(t, DefaultMaxRetries, *cfg.MaxRetries)
}

func TestNewConfig_Overrides(t *testing.T) {
	v := loadViper(t, `
resilience:
  offline-queue:
    enabled: false
    storage-key: admin_queue
    ttl: 24h
    max-size: 10
    max-retries: 5
`)

	cfg, err := NewConfig(v)

	require.NoError(t, err)
	assert.False(t, *cfg.Enabled)
	assert.Equal(t, "admin_queue", *cfg.StorageKey)
	assert.Equal(t, 24*time.Hour, *cfg.TTL)
	assert.Equal(t, 10, *cfg.MaxSize)
	assert.Equal(t, 5, *cfg.MaxRetries)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"zero max size":    "max-size: 0",
		"zero max retries": "max-retries: 0",
		"negative ttl":     "ttl: -1h",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			v := loadViper(t, "resilience:\n  offline-queue:\n    "+line+"\n")

			_, err := NewConfig(v)

			assert.Error(t, err)
		})
	}
}
