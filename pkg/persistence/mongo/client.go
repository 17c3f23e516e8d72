package mongo

import (
	"context"
	"fmt"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
	"go.uber.org/zap"
)

// client owns the driver connection for the store.
type client struct {
	driver *mongodriver.Client
	conf   Config
	log    *zap.Logger
}

func newClient(conf Config, log *zap.Logger) (*client, error) {
	opts := options.Client().
		ApplyURI(buildURI(conf)).
		SetMaxPoolSize(conf.MaxPoolSize).
		SetServerSelectionTimeout(conf.ServerSelectTimeout).
		SetMonitor(otelmongo.NewMonitor())

	// Connect does no I/O; the first Ping in connect does.
	driver, err := mongodriver.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	return &client{driver: driver, conf: conf, log: log.With(zap.String("component", "mongo"))}, nil
}

func (c *client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.ConnectTimeout)
	defer cancel()

	if err := c.driver.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping mongo: %w", err)
	}

	c.log.Info("connected to mongo",
		zap.String("database", c.conf.Database),
		zap.String("collection", c.conf.Collection),
		zap.Uint64("max-pool-size", c.conf.MaxPoolSize),
	)
	return nil
}

func (c *client) collection() *mongodriver.Collection {
	return c.driver.Database(c.conf.Database).Collection(c.conf.Collection)
}

func (c *client) disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.ConnectTimeout)
	defer cancel()

	if err := c.driver.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongo: %w", err)
	}
	c.log.Info("disconnected from mongo")
	return nil
}
