package mongo

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
)

type moduleOptions struct {
	static *Config
}

// Option configures NewMongoModule.
type Option func(*moduleOptions)

// WithMongoConfig uses cfg instead of persistence.mongo from viper.
func WithMongoConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.static = &cfg
	}
}

// NewMongoModule provides a MongoDB backed persistence.Store. The client
// connects and the TTL index is created on start.
func NewMongoModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	cfgProvider := fx.Provide(newConfig)
	if o.static != nil {
		cfg := *o.static
		cfg.applyDefaults()
		cfgProvider = fx.Supply(cfg)
	}

	return fx.Module("mongo-store",
		cfgProvider,
		fx.Provide(provideStore),
	)
}

func provideStore(lc fx.Lifecycle, log *zap.Logger, conf Config) (persistence.Store, error) {
	c, err := newClient(conf, log)
	if err != nil {
		return nil, err
	}

	coll := c.collection()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.connect(ctx); err != nil {
				return err
			}
			return ensureIndexes(ctx, coll)
		},
		OnStop: c.disconnect,
	})

	return newStore(coll, conf.QueryTimeout), nil
}
