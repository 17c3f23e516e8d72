package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// FailureObserver is told about every failed refresh, once per refresh
// however many callers were waiting on it. Hosts use it to end the session.
type FailureObserver func(err error)

// RefreshCoordinator makes sure concurrent 401s trigger a single refresh.
// Every caller that arrives while a refresh is running waits for it and gets
// the same result.
type RefreshCoordinator struct {
	source   Source
	timeout  time.Duration
	group    singleflight.Group
	inFlight atomic.Bool
	log      *zap.Logger

	mu        sync.Mutex
	observers []FailureObserver
}

func NewRefreshCoordinator(source Source, cfg Config, log *zap.Logger) *RefreshCoordinator {
	cfg.applyDefaults()
	return &RefreshCoordinator{
		source:  source,
		timeout: *cfg.RefreshTimeout,
		log:     log.With(zap.String("component", "token-refresh")),
	}
}

// OnFailure registers obs for failed refreshes.
func (c *RefreshCoordinator) OnFailure(obs FailureObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

// CurrentToken returns the source's current access token.
func (c *RefreshCoordinator) CurrentToken() string {
	return c.source.CurrentToken()
}

// InFlight reports whether a refresh is running.
func (c *RefreshCoordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Refresh joins the running refresh or starts one. The refresh itself is
// detached from ctx and bounded by the configured timeout, so one caller
// giving up does not fail the others; ctx only bounds this caller's wait.
func (c *RefreshCoordinator) Refresh(ctx context.Context) (TokenPair, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.perform(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	}
}

func (c *RefreshCoordinator) perform(ctx context.Context) (TokenPair, error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Debug("refreshing access token")
	pair, err := c.source.PerformRefresh(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		c.log.Warn("access token refresh failed", zap.Error(err))
		c.notifyFailure(err)
		return TokenPair{}, err
	}
	c.log.Debug("access token refreshed")
	return pair, nil
}

func (c *RefreshCoordinator) notifyFailure(err error) {
	c.mu.Lock()
	observers := append([]FailureObserver(nil), c.observers...)
	c.mu.Unlock()

	for _, obs := range observers {
		obs(err)
	}
}
