package offline

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	DefaultStorageKey = "offline_request_queue"
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxSize    = 100
	DefaultMaxRetries = 3
)

// Config is the offline-queue section:
//
//	resilience:
//	  offline-queue:
//	    enabled: true
//	    storage-key: offline_request_queue
//	    ttl: 168h
//	    max-size: 100
//	    max-retries: 3
type Config struct {
	Enabled    *bool          `mapstructure:"enabled"`
	StorageKey *string        `mapstructure:"storage-key"`
	TTL        *time.Duration `mapstructure:"ttl"`
	MaxSize    *int           `mapstructure:"max-size"`
	MaxRetries *int           `mapstructure:"max-retries"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

// NewConfig reads resilience.offline-queue from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.offline-queue", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load offline queue config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid offline queue config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Enabled == nil {
		c.Enabled = lo.ToPtr(true)
	}
	if c.StorageKey == nil || *c.StorageKey == "" {
		c.StorageKey = lo.ToPtr(DefaultStorageKey)
	}
	if c.TTL == nil {
		c.TTL = lo.ToPtr(DefaultTTL)
	}
	if c.MaxSize == nil {
		c.MaxSize = lo.ToPtr(DefaultMaxSize)
	}
	if c.MaxRetries == nil {
		c.MaxRetries = lo.ToPtr(DefaultMaxRetries)
	}
}

func (c Config) validate() error {
	switch {
	case *c.TTL < 0:
		return errors.New("ttl must not be negative")
	case *c.MaxSize <= 0:
		return errors.New("max-size must be positive")
	case *c.MaxRetries <= 0:
		return errors.New("max-retries must be positive")
	}
	return nil
}
