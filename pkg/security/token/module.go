package token

import (
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// tokenOptions holds internal configuration for the token module.
type tokenOptions struct {
	config           *Config
	disableInspector bool
}

// TokenOption is a functional option for configuring the token module.
type TokenOption func(*tokenOptions)

// WithTokenConfig provides a static Config (useful for tests).
func WithTokenConfig(cfg Config) TokenOption {
	return func(opts *tokenOptions) {
		opts.config = &cfg
	}
}

// WithoutExpiryCheck turns off proactive refresh even when a public key is
// configured.
func WithoutExpiryCheck() TokenOption {
	return func(opts *tokenOptions) {
		opts.disableInspector = true
	}
}

// NewRefreshModule provides the auth Config, the RefreshCoordinator and an
// *ExpiryChecker. The checker is nil when no public key is configured.
// The host must provide a Source.
//
//	fx.New(
//	    fx.Provide(func(s *session.Store) token.Source { return s }),
//	    token.NewRefreshModule(),
//	)
func NewRefreshModule(opts ...TokenOption) fx.Option {
	cfg := &tokenOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			provideConfig,
			provideCoordinator,
			provideExpiryChecker,
		),
	)
}

func provideConfig(opts *tokenOptions, v *viper.Viper) (Config, error) {
	if opts.config != nil {
		cfg := *opts.config
		cfg.applyDefaults()
		return cfg, cfg.validate()
	}
	return NewConfig(v)
}

func provideCoordinator(source Source, cfg Config, log *zap.Logger) *RefreshCoordinator {
	return NewRefreshCoordinator(source, cfg, log)
}

func provideExpiryChecker(opts *tokenOptions, cfg Config, log *zap.Logger) (*ExpiryChecker, error) {
	if opts.disableInspector || cfg.PublicKey == "" {
		log.Info("token expiry check disabled, refreshing on 401 only")
		return nil, nil
	}
	return NewExpiryChecker(cfg)
}
