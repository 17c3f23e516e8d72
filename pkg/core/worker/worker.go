package worker

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type worker interface {
	Start()
	Stop(ctx context.Context)
}

// runnable is anything with a blocking Run that returns when ctx is cancelled.
type runnable interface {
	Run(ctx context.Context) error
}

// Options contains configuration for a worker.
type Options struct {
	ShutdownOnError bool
}

// Option is a functional option for configuring a worker.
type Option func(*Options)

// WithShutdown makes a Run error stop the whole application.
func WithShutdown() Option {
	return func(o *Options) {
		o.ShutdownOnError = true
	}
}

type baseWorker struct {
	name       string
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	log        *zap.Logger
	runFunc    func(ctx context.Context) error
	shutdowner fx.Shutdowner
	options    Options
}

func (w *baseWorker) Start() {
	w.log.Info("starting " + w.name)
	ctx, cancel := context.WithCancel(context.Background())
	w.cancelFunc = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

func (w *baseWorker) run(ctx context.Context) {
	err := w.runFunc(ctx)
	if err == nil || ctx.Err() != nil {
		w.log.Info(w.name + " stopped")
		return
	}

	if !w.options.ShutdownOnError {
		w.log.Error(w.name+" stopped with error", zap.Error(err))
		return
	}

	w.log.Error(w.name+" fatal error, initiating shutdown", zap.Error(err))
	if shutdownErr := w.shutdowner.Shutdown(fx.ExitCode(1)); shutdownErr != nil {
		w.log.Error("failed to initiate shutdown", zap.Error(shutdownErr))
	}
}

// Stop cancels the run context and waits for Run to return or ctx to expire.
func (w *baseWorker) Stop(ctx context.Context) {
	w.log.Info("stopping " + w.name)
	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn(w.name+" did not stop in time", zap.Error(ctx.Err()))
	}
}

func registerWorker(lc fx.Lifecycle, w worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.Stop(ctx)
			return nil
		},
	})
}

// Register returns an fx constructor that runs dep.Run for the lifetime of the app.
//
//	fx.Provide(worker.Register[*dedup.Sweeper]("dedup-sweeper"))
func Register[T runnable](name string, opts ...Option) any {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	return fx.Annotate(
		func(lc fx.Lifecycle, log *zap.Logger, shutdowner fx.Shutdowner, dep T) worker {
			w := &baseWorker{
				name:       name,
				log:        log.With(zap.String("worker", name)),
				runFunc:    dep.Run,
				shutdowner: shutdowner,
				options:    options,
			}
			registerWorker(lc, w)
			return w
		},
		fx.ResultTags(`group:"workers"`),
	)
}

// Workers forces construction of every registered worker.
type Workers struct {
	fx.In
	All []worker `group:"workers"`
}
