// Package main provides the offlinectl CLI for inspecting and draining a
// persisted offline request queue.
//
// Usage:
//
//	offlinectl list --config ./config.yaml
//	offlinectl replay --config ./config.yaml --token "$ACCESS_TOKEN"
//	offlinectl clear --config ./config.yaml
//
// The queue is read from the MongoDB store configured under
// persistence.mongo. Replays go to resilience.client.base-url.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/internal/offlinectl"
	"github.com/Sokol111/ecommerce-resilience/pkg/core"
	"github.com/Sokol111/ecommerce-resilience/pkg/core/config"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/client"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/offline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/pipeline"
	"github.com/Sokol111/ecommerce-resilience/pkg/observability"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence/mongo"
	"github.com/Sokol111/ecommerce-resilience/pkg/security/token"
)

var version = "dev"

type rootOptions struct {
	configPath string
	noEnvFile  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "offlinectl",
		Short:         "Inspect and drain the persisted offline request queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults to CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&opts.noEnvFile, "no-env-file", false, "Do not load .env")

	rootCmd.AddCommand(newListCmd(opts), newClearCmd(opts), newReplayCmd(opts))

	return rootCmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued requests in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTool(cmd.Context(), opts, "", func(_ context.Context, t *offlinectl.Tool) error {
				return t.List()
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTool(cmd.Context(), opts, "", func(ctx context.Context, t *offlinectl.Tool) error {
				return t.Clear(ctx)
			})
		},
	}
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var accessToken string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Send every queued request once",
		Long: `Send every queued request once, in enqueue order.

Requests that fail go back to the queue until they reach
resilience.offline-queue.max-retries. A 401 is not refreshed: pass a
fresh access token with --token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTool(cmd.Context(), opts, accessToken, func(ctx context.Context, t *offlinectl.Tool) error {
				return t.Replay(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&accessToken, "token", "t", "", "Bearer token attached to replayed requests")

	return cmd
}

// staticToken hands out a fixed access token and never refreshes.
type staticToken string

func (s staticToken) CurrentToken() string { return string(s) }

func (s staticToken) Refresh(context.Context) (token.TokenPair, error) {
	return token.TokenPair{}, errors.New("token refresh is not available, pass a fresh --token")
}

// withTool starts the store, builds a Tool and runs fn. Replays go over the
// configured client, with accessToken attached when it is set.
func withTool(ctx context.Context, opts *rootOptions, accessToken string, fn func(context.Context, *offlinectl.Tool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	coreOpts := []core.Option{
		core.WithAppConfig(config.AppConfig{ServiceName: "offlinectl", ServiceVersion: version, Environment: "cli"}),
	}
	if opts.configPath != "" {
		coreOpts = append(coreOpts, core.WithConfigPath(opts.configPath))
	}
	if opts.noEnvFile {
		coreOpts = append(coreOpts, core.WithoutEnvFile())
	}

	var (
		store     persistence.Store
		queueCfg  offline.Config
		clientCfg client.Config
		log       *zap.Logger
		tp        trace.TracerProvider
		mp        metric.MeterProvider
	)
	app := fx.New(
		fx.NopLogger,
		core.NewCoreModule(coreOpts...),
		observability.NewObservabilityModule(),
		mongo.NewMongoModule(),
		fx.Provide(offline.NewConfig, client.NewConfig),
		fx.Populate(&store, &queueCfg, &clientCfg, &log, &tp, &mp),
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.WithoutCancel(ctx)) }()

	transport, err := client.NewTransport(clientCfg, log, client.WithTracerProvider(tp))
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	var tokens pipeline.TokenProvider
	if accessToken != "" {
		tokens = staticToken(accessToken)
	}

	tool, err := offlinectl.New(ctx, store, pipeline.NewReplayer(transport, tokens), queueCfg, log, os.Stdout,
		offline.WithTracerProvider(tp), offline.WithMeterProvider(mp))
	if err != nil {
		return err
	}
	return fn(ctx, tool)
}
