package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = time.Second
	DefaultBackoffFactor = 2.0
	DefaultMaxDelay      = 30 * time.Second
	DefaultJitter        = 0.25
)

// Config is the retry section of the resilience configuration:
//
//	resilience:
//	  retry:
//	    max-retries: 3
//	    initial-delay: 1s
//	    backoff-factor: 2
//	    max-delay: 30s
//	    jitter: 0.25
//
// Omitted fields take the defaults above.
type Config struct {
	MaxRetries    *int           `mapstructure:"max-retries"`
	InitialDelay  *time.Duration `mapstructure:"initial-delay"`
	BackoffFactor *float64       `mapstructure:"backoff-factor"`
	MaxDelay      *time.Duration `mapstructure:"max-delay"`
	Jitter        *float64       `mapstructure:"jitter"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

// NewConfig reads resilience.retry from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.retry", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load retry config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid retry config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == nil {
		c.MaxRetries = lo.ToPtr(DefaultMaxRetries)
	}
	if c.InitialDelay == nil {
		c.InitialDelay = lo.ToPtr(DefaultInitialDelay)
	}
	if c.BackoffFactor == nil {
		c.BackoffFactor = lo.ToPtr(DefaultBackoffFactor)
	}
	if c.MaxDelay == nil {
		c.MaxDelay = lo.ToPtr(DefaultMaxDelay)
	}
	if c.Jitter == nil {
		c.Jitter = lo.ToPtr(DefaultJitter)
	}
}

func (c Config) validate() error {
	switch {
	case *c.MaxRetries < 0:
		return errors.New("max-retries must not be negative")
	case *c.InitialDelay <= 0:
		return errors.New("initial-delay must be positive")
	case *c.BackoffFactor < 1:
		return errors.New("backoff-factor must be at least 1")
	case *c.MaxDelay < *c.InitialDelay:
		return errors.New("max-delay must not be less than initial-delay")
	case *c.Jitter < 0 || *c.Jitter >= 1:
		return errors.New("jitter must be in [0, 1)")
	}
	return nil
}
