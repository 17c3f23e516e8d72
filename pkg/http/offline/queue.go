package offline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
)

// ErrReplayInProgress is returned by Replay when another pass is running.
var ErrReplayInProgress = errors.New("offline replay already in progress")

// ReplayFunc sends one queued request. It must attach credentials itself.
type ReplayFunc func(ctx context.Context, d request.Descriptor) (*request.Response, error)

type (
	SuccessObserver func(q QueuedRequest, resp *request.Response)
	FailureObserver func(q QueuedRequest, err error)
	NetworkObserver func(online bool)
)

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Attempted int
	Succeeded int
	Requeued  int
	Dropped   int
	// Deferred counts requests left untouched because the pass stopped early.
	Deferred int
}

type Option func(*Queue)

func WithLogger(log *zap.Logger) Option {
	return func(q *Queue) { q.log = log }
}

func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDGenerator replaces uuid.NewString for request IDs.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newID = gen }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(q *Queue) { q.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(q *Queue) { q.meterProvider = mp }
}

// WithOnline sets the initial reachability flag. The default is online.
func WithOnline(online bool) Option {
	return func(q *Queue) { q.online.Store(online) }
}

func OnReplaySuccess(obs SuccessObserver) Option {
	return func(q *Queue) { q.onSuccess = append(q.onSuccess, obs) }
}

// OnReplayFailure observes requests dropped after their last allowed attempt.
func OnReplayFailure(obs FailureObserver) Option {
	return func(q *Queue) { q.onFailure = append(q.onFailure, obs) }
}

func OnNetworkStatus(obs NetworkObserver) Option {
	return func(q *Queue) { q.onNetwork = append(q.onNetwork, obs) }
}

// Queue is a durable FIFO of mutating requests that failed for lack of
// connectivity. The persisted record always equals pending followed by items.
type Queue struct {
	// writeMu orders mutations together with their store write so the
	// persisted record never goes back in time. It is never held across a
	// replay dispatch.
	writeMu sync.Mutex
	mu      sync.Mutex
	// pending holds the unsettled part of the snapshot taken by a replay pass.
	pending []QueuedRequest
	items   []QueuedRequest

	online    atomic.Bool
	replaying atomic.Bool

	store      persistence.Store
	replay     ReplayFunc
	enabled    bool
	key        string
	ttl        time.Duration
	maxSize    int
	maxRetries int

	log            *zap.Logger
	now            func() time.Time
	newID          func() string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracing        *tracePropagator

	enqueued metric.Int64Counter
	replayed metric.Int64Counter
	dropped  metric.Int64Counter

	onSuccess []SuccessObserver
	onFailure []FailureObserver
	onNetwork []NetworkObserver
}

// New creates the queue and rehydrates it from store.
func New(ctx context.Context, store persistence.Store, replay ReplayFunc, cfg Config, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("offline queue requires a store")
	}
	if replay == nil {
		return nil, errors.New("offline queue requires a replay function")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid offline queue config: %w", err)
	}

	q := &Queue{
		store:      store,
		replay:     replay,
		enabled:    *cfg.Enabled,
		key:        *cfg.StorageKey,
		ttl:        *cfg.TTL,
		maxSize:    *cfg.MaxSize,
		maxRetries: *cfg.MaxRetries,
		log:        zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	q.online.Store(true)
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(zap.String("component", "offline-queue"))
	if q.tracerProvider == nil {
		q.tracerProvider = otel.GetTracerProvider()
	}
	if q.meterProvider == nil {
		q.meterProvider = otel.GetMeterProvider()
	}
	q.tracing = newTracePropagator(q.tracerProvider)
	if err := q.initMetrics(); err != nil {
		return nil, err
	}

	if err := q.load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) initMetrics() error {
	meter := q.meterProvider.Meter("offline-queue")
	var err error
	if q.enqueued, err = meter.Int64Counter("offline_queue.enqueued",
		metric.WithDescription("Requests accepted into the offline queue")); err != nil {
		return fmt.Errorf("failed to create enqueued counter: %w", err)
	}
	if q.replayed, err = meter.Int64Counter("offline_queue.replayed",
		metric.WithDescription("Replay attempts by outcome")); err != nil {
		return fmt.Errorf("failed to create replayed counter: %w", err)
	}
	if q.dropped, err = meter.Int64Counter("offline_queue.dropped",
		metric.WithDescription("Requests dropped after the last replay attempt")); err != nil {
		return fmt.Errorf("failed to create dropped counter: %w", err)
	}
	return nil
}

func (q *Queue) load(ctx context.Context) error {
	data, err := q.store.Get(ctx, q.key)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load offline queue: %w", err)
	}

	items, err := decodeQueue(data)
	if err != nil {
		q.log.Warn("discarding unreadable offline queue", zap.Error(err))
		if err := q.store.Remove(ctx, q.key); err != nil {
			return fmt.Errorf("failed to remove unreadable offline queue: %w", err)
		}
		return nil
	}

	q.items = items
	if len(items) > 0 {
		q.log.Info("offline queue restored", zap.Int("size", len(items)))
	}
	return nil
}

// Enqueue stores a sanitized copy of d. It reports false without error when
// the queue is disabled, the request opted out, is not mutating or the
// queue is full.
func (q *Queue) Enqueue(ctx context.Context, d request.Descriptor) (bool, error) {
	if !q.enabled || d.Opts.NoCache || !d.IsMutating() {
		return false, nil
	}

	id := q.newID()
	clean, err := sanitize(d, id)
	if err != nil {
		return false, err
	}
	item := QueuedRequest{
		ID:           id,
		Descriptor:   clean,
		EnqueuedAt:   q.now(),
		TraceContext: q.tracing.saveTraceContext(ctx),
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	if len(q.pending)+len(q.items) >= q.maxSize {
		q.mu.Unlock()
		q.log.Warn("offline queue is full, request not queued",
			zap.String("request", d.String()), zap.Int("max_size", q.maxSize))
		return false, nil
	}
	q.items = append(q.items, item)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if err := q.persist(ctx, snapshot); err != nil {
		q.mu.Lock()
		q.items = lo.Reject(q.items, func(it QueuedRequest, _ int) bool { return it.ID == id })
		q.mu.Unlock()
		return false, fmt.Errorf("failed to persist offline queue: %w", err)
	}

	q.enqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("method", clean.Method)))
	q.log.Info("request queued for replay",
		zap.String("id", id), zap.String("request", clean.String()), zap.Int("size", len(snapshot)))
	return true, nil
}

// OnNetworkChange records the new reachability, notifies observers and
// replays the queue when the host comes back online.
func (q *Queue) OnNetworkChange(ctx context.Context, online bool) (ReplayResult, error) {
	q.online.Store(online)
	for _, obs := range q.onNetwork {
		obs(online)
	}
	if !online {
		q.log.Info("network offline, replay suspended", zap.Int("size", q.Size()))
		return ReplayResult{}, nil
	}
	return q.Replay(ctx)
}

// Replay sends every queued request once, in enqueue order. Failed requests
// go to the back of the queue until they reach the retry ceiling.
func (q *Queue) Replay(ctx context.Context) (ReplayResult, error) {
	if !q.replaying.CompareAndSwap(false, true) {
		return ReplayResult{}, ErrReplayInProgress
	}
	defer q.replaying.Store(false)

	q.writeMu.Lock()
	q.mu.Lock()
	q.pending = q.items
	q.items = nil
	q.mu.Unlock()
	q.writeMu.Unlock()

	var (
		result ReplayResult
		errs   []error
	)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		item := q.pending[0]
		q.mu.Unlock()

		if ctx.Err() != nil || !q.online.Load() {
			result.Deferred = q.restorePending()
			q.log.Info("replay stopped early", zap.Int("deferred", result.Deferred))
			break
		}

		resp, err := q.dispatch(ctx, item)
		if err != nil && ctx.Err() != nil {
			// Cancelled mid-flight: the attempt does not count.
			result.Deferred = q.restorePending()
			break
		}
		result.Attempted++

		settled, outcome, settleErr := q.settle(ctx, item, err)
		if settleErr != nil {
			errs = append(errs, settleErr)
		}
		switch outcome {
		case outcomeSucceeded:
			result.Succeeded++
			for _, obs := range q.onSuccess {
				obs(settled, resp)
			}
		case outcomeRequeued:
			result.Requeued++
		case outcomeDropped:
			result.Dropped++
			for _, obs := range q.onFailure {
				obs(settled, err)
			}
		}
	}

	if result.Attempted > 0 {
		q.log.Info("replay pass finished",
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("requeued", result.Requeued),
			zap.Int("dropped", result.Dropped),
			zap.Int("deferred", result.Deferred))
	}
	return result, errors.Join(errs...)
}

func (q *Queue) dispatch(ctx context.Context, item QueuedRequest) (*request.Response, error) {
	ctx, span := q.tracing.startReplaySpan(ctx, item)
	defer span.End()

	resp, err := q.replay(ctx, item.Descriptor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

type outcome int

const (
	outcomeGone outcome = iota
	outcomeSucceeded
	outcomeRequeued
	outcomeDropped
)

// settle removes item from pending and, on failure, re-appends it to the
// live list or drops it at the ceiling. The result is persisted even if the
// caller's context is gone because the server may already have applied it.
func (q *Queue) settle(ctx context.Context, item QueuedRequest, replayErr error) (QueuedRequest, outcome, error) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	idx := slices.IndexFunc(q.pending, func(it QueuedRequest) bool { return it.ID == item.ID })
	if idx < 0 {
		// Cleared while in flight.
		q.mu.Unlock()
		return item, outcomeGone, nil
	}
	q.pending = slices.Delete(q.pending, idx, idx+1)

	result := outcomeSucceeded
	if replayErr != nil {
		item.RetryCount++
		if item.RetryCount >= q.maxRetries {
			result = outcomeDropped
		} else {
			result = outcomeRequeued
			q.items = append(q.items, item)
		}
	}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	method := attribute.String("method", item.Descriptor.Method)
	switch result {
	case outcomeSucceeded:
		q.replayed.Add(ctx, 1, metric.WithAttributes(method, attribute.String("outcome", "success")))
	case outcomeRequeued:
		q.replayed.Add(ctx, 1, metric.WithAttributes(method, attribute.String("outcome", "requeued")))
		q.log.Warn("replay failed, request requeued",
			zap.String("id", item.ID), zap.Int("retry_count", item.RetryCount), zap.Error(replayErr))
	case outcomeDropped:
		q.replayed.Add(ctx, 1, metric.WithAttributes(method, attribute.String("outcome", "dropped")))
		q.dropped.Add(ctx, 1, metric.WithAttributes(method))
		q.log.Error("replay failed too many times, request dropped",
			zap.String("id", item.ID), zap.String("request", item.Descriptor.String()), zap.Error(replayErr))
	}

	if err := q.persist(context.WithoutCancel(ctx), snapshot); err != nil {
		return item, result, fmt.Errorf("failed to persist offline queue after replay of %s: %w", item.ID, err)
	}
	return item, result, nil
}

// restorePending puts the unsettled remainder back in front of the live list.
// The persisted record does not change because it already holds pending first.
func (q *Queue) restorePending() int {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	q.items = slices.Concat(q.pending, q.items)
	q.pending = nil
	return n
}

// Clear drops every queued request, including the unsettled part of a
// running replay pass.
func (q *Queue) Clear(ctx context.Context) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	q.pending = nil
	q.items = nil
	q.mu.Unlock()

	if err := q.store.Remove(ctx, q.key); err != nil {
		return fmt.Errorf("failed to clear offline queue: %w", err)
	}
	return nil
}

// Size returns the number of requests waiting for replay.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.items)
}

// Items returns a copy of the queue in replay order.
func (q *Queue) Items() []QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// IsOnline reports the reachability last passed to OnNetworkChange.
func (q *Queue) IsOnline() bool {
	return q.online.Load()
}

func (q *Queue) snapshotLocked() []QueuedRequest {
	snapshot := make([]QueuedRequest, 0, len(q.pending)+len(q.items))
	snapshot = append(snapshot, q.pending...)
	return append(snapshot, q.items...)
}

func (q *Queue) persist(ctx context.Context, snapshot []QueuedRequest) error {
	if len(snapshot) == 0 {
		return q.store.Remove(ctx, q.key)
	}
	data, err := encodeQueue(snapshot)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, q.key, data, q.ttl)
}
