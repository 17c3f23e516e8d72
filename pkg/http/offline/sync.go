package offline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/reachability"
)

// Syncer keeps the queue in step with a reachability monitor. Going offline
// is applied immediately from the monitor's callback so a running replay
// stops at the next item; coming online is handled on the Run goroutine
// because it replays. It is meant to run as a worker.
type Syncer struct {
	queue    *Queue
	monitor  reachability.Monitor
	onOnline []func()
	log      *zap.Logger
	signal   chan struct{}
}

// NewSyncer creates a Syncer. onOnline hooks run before each replay, e.g. to
// drop pooled connections that died with the network.
func NewSyncer(q *Queue, monitor reachability.Monitor, log *zap.Logger, onOnline ...func()) *Syncer {
	return &Syncer{
		queue:    q,
		monitor:  monitor,
		onOnline: onOnline,
		log:      log.With(zap.String("component", "offline-sync")),
		signal:   make(chan struct{}, 1),
	}
}

// Run replays anything left over from a previous session, then follows the
// monitor until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	unsubscribe := s.monitor.Subscribe(func(online bool) {
		if !online {
			_, _ = s.queue.OnNetworkChange(ctx, false)
			return
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	s.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.signal:
			s.sync(ctx)
		}
	}
}

func (s *Syncer) sync(ctx context.Context) {
	if !s.monitor.IsOnline() {
		_, _ = s.queue.OnNetworkChange(ctx, false)
		return
	}
	for _, hook := range s.onOnline {
		hook()
	}
	if _, err := s.queue.OnNetworkChange(ctx, true); err != nil && !errors.Is(err, ErrReplayInProgress) {
		s.log.Warn("offline replay finished with errors", zap.Error(err))
	}
}
