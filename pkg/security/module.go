package security

import (
	"github.com/Sokol111/ecommerce-resilience/pkg/security/token"
	"go.uber.org/fx"
)

// securityOptions holds internal configuration for the security module.
type securityOptions struct {
	tokenConfig      *token.Config
	noExpiryChecking bool
}

// SecurityOption is a functional option for configuring the security module.
type SecurityOption func(*securityOptions)

// WithTokenConfig provides a static token Config (useful for tests).
// When set, the auth configuration will not be loaded from viper.
func WithTokenConfig(cfg token.Config) SecurityOption {
	return func(opts *securityOptions) {
		opts.tokenConfig = &cfg
	}
}

// WithoutExpiryCheck disables proactive refresh; tokens are refreshed
// only after the server rejects them.
func WithoutExpiryCheck() SecurityOption {
	return func(opts *securityOptions) {
		opts.noExpiryChecking = true
	}
}

// NewSecurityModule provides client-side credential handling: single-flight
// token refresh and optional expiry inspection.
//
// Example usage:
//
//	// Production - loads resilience.auth from viper
//	security.NewSecurityModule()
//
//	// Testing - static config, no token inspection
//	security.NewSecurityModule(
//	    security.WithTokenConfig(token.DefaultConfig()),
//	    security.WithoutExpiryCheck(),
//	)
func NewSecurityModule(opts ...SecurityOption) fx.Option {
	cfg := &securityOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	var tokenOpts []token.TokenOption
	if cfg.tokenConfig != nil {
		tokenOpts = append(tokenOpts, token.WithTokenConfig(*cfg.tokenConfig))
	}
	if cfg.noExpiryChecking {
		tokenOpts = append(tokenOpts, token.WithoutExpiryCheck())
	}
	return token.NewRefreshModule(tokenOpts...)
}
