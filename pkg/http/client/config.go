package client

import (
	"fmt"
	"net/url"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Default values for the HTTP client configuration.
const (
	DefaultTimeout             = 10 * time.Second
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxConnLifetime     = 60 * time.Second // Rotate connections so DNS changes are picked up
	MaxReconnectsCap           = 5
	MinConnLifetime            = time.Second
)

// Config holds the transport configuration loaded from the config file.
// yaml example:
//
//	resilience:
//	  client:
//	    base-url: https://admin-api.example.com/api/v1
//	    timeout: 10s
//	    max-idle-conns-per-host: 10
//	    idle-conn-timeout: 90s
//	    max-conn-lifetime: 60s
//
// Omit timeout fields to use defaults. Set to 0 to disable. A non-zero
// max-conn-lifetime must be at least MinConnLifetime. Without a base-url
// every request must carry an absolute URL.
type Config struct {
	BaseURL             string         `mapstructure:"base-url"`
	Timeout             *time.Duration `mapstructure:"timeout"`
	MaxIdleConnsPerHost *int           `mapstructure:"max-idle-conns-per-host"`
	IdleConnTimeout     *time.Duration `mapstructure:"idle-conn-timeout"`
	MaxConnLifetime     *time.Duration `mapstructure:"max-conn-lifetime"`
}

// NewConfig reads resilience.client from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.client", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal client config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid client config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timeout == nil {
		c.Timeout = lo.ToPtr(DefaultTimeout)
	}
	if c.MaxIdleConnsPerHost == nil {
		c.MaxIdleConnsPerHost = lo.ToPtr(DefaultMaxIdleConnsPerHost)
	}
	if c.IdleConnTimeout == nil {
		c.IdleConnTimeout = lo.ToPtr(DefaultIdleConnTimeout)
	}
	if c.MaxConnLifetime == nil {
		c.MaxConnLifetime = lo.ToPtr(DefaultMaxConnLifetime)
	}
}

func (c Config) validate() error {
	if c.MaxConnLifetime != nil && *c.MaxConnLifetime != 0 && *c.MaxConnLifetime < MinConnLifetime {
		return fmt.Errorf("max-conn-lifetime must be 0 (disabled) or at least %s, got %s", MinConnLifetime, *c.MaxConnLifetime)
	}
	if c.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base-url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base-url must be absolute, got %q", c.BaseURL)
	}
	return nil
}
