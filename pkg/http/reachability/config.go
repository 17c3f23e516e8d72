package reachability

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	DefaultInterval       = 15 * time.Second
	DefaultTimeout        = 3 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
)

// Config is the reachability section. Probing is off when probe-url is empty.
//
//	resilience:
//	  reachability:
//	    probe-url: https://api.example.com/health/live
//	    interval: 15s
//	    timeout: 3s
//	    initial-backoff: 1s
//	    max-backoff: 1m
type Config struct {
	ProbeURL       string         `mapstructure:"probe-url"`
	Interval       *time.Duration `mapstructure:"interval"`
	Timeout        *time.Duration `mapstructure:"timeout"`
	InitialBackoff *time.Duration `mapstructure:"initial-backoff"`
	MaxBackoff     *time.Duration `mapstructure:"max-backoff"`
}

// NewConfig reads resilience.reachability from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.reachability", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load reachability config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid reachability config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Interval == nil {
		c.Interval = lo.ToPtr(DefaultInterval)
	}
	if c.Timeout == nil {
		c.Timeout = lo.ToPtr(DefaultTimeout)
	}
	if c.InitialBackoff == nil {
		c.InitialBackoff = lo.ToPtr(DefaultInitialBackoff)
	}
	if c.MaxBackoff == nil {
		c.MaxBackoff = lo.ToPtr(DefaultMaxBackoff)
	}
}

func (c Config) validate() error {
	switch {
	case *c.Interval <= 0 || *c.Timeout <= 0 || *c.InitialBackoff <= 0:
		return errors.New("interval, timeout and initial-backoff must be positive")
	case *c.MaxBackoff < *c.InitialBackoff:
		return errors.New("max-backoff must not be less than initial-backoff")
	}
	return nil
}
