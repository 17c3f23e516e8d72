package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

const defaultMongoImage = "mongo:7"

// MongoDBContainer is a disposable MongoDB for integration tests.
type MongoDBContainer struct {
	Container        *mongodb.MongoDBContainer
	ConnectionString string
}

// MongoDBContainerOption configures StartMongoDBContainer.
type MongoDBContainerOption func(*mongoDBContainerOptions)

type mongoDBContainerOptions struct {
	image string
}

// WithImage overrides the mongo image.
func WithImage(image string) MongoDBContainerOption {
	return func(o *mongoDBContainerOptions) {
		o.image = image
	}
}

// StartMongoDBContainer runs MongoDB and resolves its connection string.
// Callers connect with their own client so the code under test owns it.
func StartMongoDBContainer(ctx context.Context, opts ...MongoDBContainerOption) (*MongoDBContainer, error) {
	o := &mongoDBContainerOptions{image: defaultMongoImage}
	for _, opt := range opts {
		opt(o)
	}

	c, err := mongodb.Run(ctx, o.image)
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to get connection string: %w", err),
			testcontainers.TerminateContainer(c),
		)
	}

	return &MongoDBContainer{Container: c, ConnectionString: uri}, nil
}

// Terminate stops and removes the container.
func (m *MongoDBContainer) Terminate(context.Context) error {
	if m.Container == nil {
		return nil
	}
	if err := testcontainers.TerminateContainer(m.Container); err != nil {
		return fmt.Errorf("failed to terminate mongodb container: %w", err)
	}
	return nil
}
