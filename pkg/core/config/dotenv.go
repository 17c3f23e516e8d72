package config

import (
	"context"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type dotenvConfig struct {
	paths  []string
	loaded []string
}

// DotEnvOption configures NewDotEnvModule.
type DotEnvOption func(*dotenvConfig)

// WithDotEnvPath adds a file to load. Earlier files win for keys defined twice.
func WithDotEnvPath(path string) DotEnvOption {
	return func(cfg *dotenvConfig) {
		cfg.paths = append(cfg.paths, path)
	}
}

// NewDotEnvModule loads environment variables from .env files before any
// provider reads the environment. Missing files are ignored.
func NewDotEnvModule(opts ...DotEnvOption) fx.Option {
	cfg := &dotenvConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.paths) == 0 {
		cfg.paths = []string{".env"}
	}

	for _, p := range cfg.paths {
		if err := godotenv.Load(p); err == nil {
			cfg.loaded = append(cfg.loaded, p)
		}
	}

	return fx.Module("dotenv",
		fx.Invoke(func(lc fx.Lifecycle, logger *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					if len(cfg.loaded) > 0 {
						logger.Info("Loaded .env files", zap.Strings("paths", cfg.loaded))
					} else {
						logger.Debug("No .env file loaded", zap.Strings("paths", cfg.paths))
					}
					return nil
				},
			})
		}),
	)
}
