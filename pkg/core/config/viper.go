package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const envConfigFile = "CONFIG_FILE"

type viperConfig struct {
	configPath   *string
	noConfigFile bool
}

// ViperOption is a functional option for configuring the Viper module.
type ViperOption func(*viperConfig)

// WithConfigPath sets a direct path to the configuration file,
// taking precedence over CONFIG_FILE.
func WithConfigPath(path string) ViperOption {
	return func(cfg *viperConfig) {
		cfg.configPath = &path
	}
}

// WithoutConfigFile keeps Viper available for injection but reads only the environment.
func WithoutConfigFile() ViperOption {
	return func(cfg *viperConfig) {
		cfg.noConfigFile = true
	}
}

// FilePath is the configuration file location. Empty means none.
type FilePath string

// NewViperModule provides *viper.Viper. Keys may be overridden by environment
// variables with dots and dashes replaced by underscores, so
// resilience.retry.max-retries becomes RESILIENCE_RETRY_MAX_RETRIES.
func NewViperModule(opts ...ViperOption) fx.Option {
	cfg := &viperConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Module("viper",
		fx.Supply(resolveConfigPath(cfg)),
		fx.Provide(newViper),
		fx.Invoke(func(logger *zap.Logger, v *viper.Viper) {
			logger.Info("Configuration loaded",
				zap.String("configFile", v.ConfigFileUsed()),
				zap.Int("keys", len(v.AllKeys())),
			)
		}),
	)
}

func resolveConfigPath(cfg *viperConfig) FilePath {
	switch {
	case cfg.noConfigFile:
		return ""
	case cfg.configPath != nil:
		return FilePath(*cfg.configPath)
	default:
		return FilePath(os.Getenv(envConfigFile))
	}
}

func newViper(configFile FilePath, logger *zap.Logger) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile == "" {
		logger.Info("No config file specified, reading environment only")
		return v, nil
	}

	v.SetConfigFile(string(configFile))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file [%s]: %w", configFile, err)
	}

	return v, nil
}
