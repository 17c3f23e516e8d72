package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	DefaultRefreshPath    = "/auth/refresh"
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRefreshLeeway  = 30 * time.Second
)

// Config is the auth section of the resilience configuration.
//
//	resilience:
//	  auth:
//	    refresh-path: /auth/refresh
//	    refresh-timeout: 10s
//	    refresh-leeway: 30s
//	    public-key: <hex Ed25519 key>
//
// Without a public key tokens are not inspected and refresh only happens
// after a 401.
type Config struct {
	RefreshPath    *string        `mapstructure:"refresh-path"`
	RefreshTimeout *time.Duration `mapstructure:"refresh-timeout"`
	RefreshLeeway  *time.Duration `mapstructure:"refresh-leeway"`
	// PublicKey is the hex-encoded Ed25519 public key for verifying tokens.
	PublicKey string `mapstructure:"public-key"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

// NewConfig reads resilience.auth from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.auth", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load auth config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid auth config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RefreshPath == nil {
		c.RefreshPath = lo.ToPtr(DefaultRefreshPath)
	}
	if c.RefreshTimeout == nil {
		c.RefreshTimeout = lo.ToPtr(DefaultRefreshTimeout)
	}
	if c.RefreshLeeway == nil {
		c.RefreshLeeway = lo.ToPtr(DefaultRefreshLeeway)
	}
}

func (c Config) validate() error {
	switch {
	case *c.RefreshPath == "":
		return errors.New("refresh-path is required")
	case *c.RefreshTimeout <= 0:
		return errors.New("refresh-timeout must be positive")
	case *c.RefreshLeeway < 0:
		return errors.New("refresh-leeway must not be negative")
	}
	return nil
}
