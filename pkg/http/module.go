package http

import (
	"context"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/core/worker"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/cache"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/client"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/dedup"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/offline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/pipeline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/reachability"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/retry"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence/memory"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence/mongo"
	"github.com/Sokol111/ecommerce-resilience/pkg/security/token"
)

const restoreTimeout = 10 * time.Second

// resilienceOptions holds internal configuration for the resilience module.
type resilienceOptions struct {
	clientConfig *client.Config
	mongo        bool
	mongoOpts    []mongo.Option
	notifier     pipeline.Notifier
	noProbe      bool
}

// ResilienceOption is a functional option for configuring the resilience module.
type ResilienceOption func(*resilienceOptions)

// WithClientConfig provides a static client Config (useful for tests).
func WithClientConfig(cfg client.Config) ResilienceOption {
	return func(opts *resilienceOptions) {
		opts.clientConfig = &cfg
	}
}

// WithMongoStore keeps the offline queue and response cache in MongoDB
// instead of process memory.
func WithMongoStore(opts ...mongo.Option) ResilienceOption {
	return func(o *resilienceOptions) {
		o.mongo = true
		o.mongoOpts = opts
	}
}

// WithNotifier routes user-facing events to n instead of the log.
func WithNotifier(n pipeline.Notifier) ResilienceOption {
	return func(opts *resilienceOptions) {
		opts.notifier = n
	}
}

// WithoutProbe leaves reachability to the host, which drives it through
// *reachability.Status.
func WithoutProbe() ResilienceOption {
	return func(opts *resilienceOptions) {
		opts.noProbe = true
	}
}

// NewResilienceModule provides the request pipeline and everything behind it:
// transport, retry policy, deduplicator, offline queue, response cache and
// reachability. The dedup sweeper, the reachability prober and the offline
// syncer run as workers. Token handling is enabled when the security module
// is present.
//
// Without WithMongoStore the offline queue and the response cache live in
// process memory and queued requests are lost on restart; a warning is
// logged at start.
//
// Example usage:
//
//	fx.New(
//	    core.NewCoreModule(),
//	    security.NewSecurityModule(),
//	    http.NewResilienceModule(http.WithMongoStore()),
//	    fx.Invoke(func(p *pipeline.Pipeline) { ... }),
//	)
func NewResilienceModule(opts ...ResilienceOption) fx.Option {
	cfg := &resilienceOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	workers := []any{
		worker.Register[*dedup.Sweeper]("dedup-sweeper"),
		worker.Register[*offline.Syncer]("offline-sync"),
	}
	if !cfg.noProbe {
		workers = append(workers, worker.Register[*reachability.Prober]("reachability-prober"))
	}

	return fx.Module("resilience",
		fx.Supply(cfg),
		storeModule(cfg),
		fx.Provide(
			provideClientConfig,
			retry.NewConfig,
			dedup.NewConfig,
			offline.NewConfig,
			cache.NewConfig,
			reachability.NewConfig,
			provideTransport,
			providePolicy,
			provideDeduplicator,
			provideSweeper,
			provideStatus,
			provideProber,
			provideCache,
			provideQueue,
			provideSyncer,
			providePipeline,
		),
		fx.Provide(workers...),
		fx.Invoke(func(worker.Workers) {}),
		fx.Invoke(cancelOnStop),
	)
}

func storeModule(cfg *resilienceOptions) fx.Option {
	if cfg.mongo {
		return mongo.NewMongoModule(cfg.mongoOpts...)
	}
	return fx.Provide(provideMemoryStore)
}

func provideMemoryStore(log *zap.Logger) persistence.Store {
	log.Warn("offline queue is kept in memory and will not survive a restart, use WithMongoStore for durability",
		zap.String("component", "resilience"))
	return memory.NewStore()
}

func provideClientConfig(opts *resilienceOptions, v *viper.Viper) (client.Config, error) {
	if opts.clientConfig != nil {
		return *opts.clientConfig, nil
	}
	return client.NewConfig(v)
}

func provideTransport(lc fx.Lifecycle, cfg client.Config, tel telemetryParams, log *zap.Logger) (*client.Transport, error) {
	var opts []client.TransportOption
	if tel.TracerProvider != nil {
		opts = append(opts, client.WithTracerProvider(tel.TracerProvider))
	}
	t, err := client.NewTransport(cfg, log, opts...)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(t.CloseIdleConnections))
	return t, nil
}

func providePolicy(cfg retry.Config, log *zap.Logger) (*retry.Policy, error) {
	log = log.With(zap.String("component", "retry"))
	return retry.NewPolicy(cfg, retry.WithObserver(func(err error, attempt int, delay time.Duration) {
		log.Debug("scheduling retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}))
}

func provideDeduplicator(log *zap.Logger) *dedup.Deduplicator {
	return dedup.New(dedup.WithLogger(log))
}

func provideSweeper(d *dedup.Deduplicator, cfg dedup.Config, log *zap.Logger) *dedup.Sweeper {
	return dedup.NewSweeper(d, cfg, log)
}

func provideStatus() *reachability.Status {
	return reachability.NewStatus(true)
}

func provideProber(status *reachability.Status, cfg reachability.Config, log *zap.Logger) *reachability.Prober {
	return reachability.NewProber(status, cfg, log)
}

func provideCache(store persistence.Store, cfg cache.Config, log *zap.Logger) *cache.Cache {
	return cache.New(store, cfg, log)
}

// telemetryParams picks up the observability module's providers. Without it
// components fall back to the otel globals.
type telemetryParams struct {
	fx.In
	TracerProvider trace.TracerProvider `optional:"true"`
	MeterProvider  metric.MeterProvider `optional:"true"`
}

type tokenParams struct {
	fx.In
	Coordinator *token.RefreshCoordinator `optional:"true"`
	Expiry      *token.ExpiryChecker      `optional:"true"`
	Config      token.Config              `optional:"true"`
}

// tokens returns the provider as an interface, keeping a missing
// coordinator a nil interface rather than a typed nil.
func (p tokenParams) tokens() pipeline.TokenProvider {
	if p.Coordinator == nil {
		return nil
	}
	return p.Coordinator
}

func notifierFrom(opts *resilienceOptions, log *zap.Logger) pipeline.Notifier {
	if opts.notifier != nil {
		return opts.notifier
	}
	return pipeline.NewLogNotifier(log)
}

func provideQueue(
	opts *resilienceOptions,
	store persistence.Store,
	transport *client.Transport,
	tp tokenParams,
	tel telemetryParams,
	status *reachability.Status,
	cfg offline.Config,
	log *zap.Logger,
) (*offline.Queue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	queueOpts := append(
		pipeline.ReplayNotifications(notifierFrom(opts, log)),
		offline.WithLogger(log),
		offline.WithOnline(status.IsOnline()),
	)
	if tel.TracerProvider != nil {
		queueOpts = append(queueOpts, offline.WithTracerProvider(tel.TracerProvider))
	}
	if tel.MeterProvider != nil {
		queueOpts = append(queueOpts, offline.WithMeterProvider(tel.MeterProvider))
	}
	return offline.New(ctx, store, pipeline.NewReplayer(transport, tp.tokens()), cfg, queueOpts...)
}

func provideSyncer(q *offline.Queue, status *reachability.Status, transport *client.Transport, log *zap.Logger) *offline.Syncer {
	return offline.NewSyncer(q, status, log, transport.CloseIdleConnections)
}

func providePipeline(
	opts *resilienceOptions,
	transport *client.Transport,
	d *dedup.Deduplicator,
	policy *retry.Policy,
	q *offline.Queue,
	c *cache.Cache,
	status *reachability.Status,
	tp tokenParams,
	tel telemetryParams,
	log *zap.Logger,
) (*pipeline.Pipeline, error) {
	pipeOpts := []pipeline.Option{
		pipeline.WithOfflineQueue(q),
		pipeline.WithResponseCache(c),
		pipeline.WithReachability(status),
		pipeline.WithNotifier(notifierFrom(opts, log)),
		pipeline.WithLogger(log),
	}
	if tel.TracerProvider != nil {
		pipeOpts = append(pipeOpts, pipeline.WithTracerProvider(tel.TracerProvider))
	}
	if tel.MeterProvider != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMeterProvider(tel.MeterProvider))
	}
	if tokens := tp.tokens(); tokens != nil {
		pipeOpts = append(pipeOpts, pipeline.WithTokens(tokens))
	}
	if tp.Expiry != nil {
		pipeOpts = append(pipeOpts, pipeline.WithExpiryChecker(tp.Expiry))
	}
	if tp.Config.RefreshPath != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRefreshPath(*tp.Config.RefreshPath))
	}
	return pipeline.New(transport, d, policy, pipeOpts...)
}

func cancelOnStop(lc fx.Lifecycle, p *pipeline.Pipeline, log *zap.Logger) {
	lc.Append(fx.StopHook(func() {
		if n := p.CancelAll(dedup.ErrCancelled); n > 0 {
			log.Info("cancelled in-flight requests on shutdown", zap.Int("count", n))
		}
	}))
}
