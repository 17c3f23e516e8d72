package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/core/logger"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/dedup"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/reachability"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/retry"
	"github.com/Sokol111/ecommerce-resilience/pkg/observability/tracing"
	"github.com/Sokol111/ecommerce-resilience/pkg/security/token"
)

const offlineWarnKey = "offline"

// Dispatcher puts one request on the wire. *client.Transport implements it.
type Dispatcher interface {
	Do(ctx context.Context, d request.Descriptor, accessToken string) (*request.Response, error)
}

// Queue accepts mutating requests made while offline. *offline.Queue implements it.
type Queue interface {
	Enqueue(ctx context.Context, d request.Descriptor) (bool, error)
}

// Cache is the read-through response cache used as the offline fallback for GET.
type Cache interface {
	Lookup(ctx context.Context, d request.Descriptor) (*request.Response, bool)
	Store(ctx context.Context, d request.Descriptor, resp *request.Response)
}

// TokenProvider supplies credentials. *token.RefreshCoordinator implements it.
type TokenProvider interface {
	CurrentToken() string
	Refresh(ctx context.Context) (token.TokenPair, error)
}

// ExpiryChecker decides whether to refresh before sending.
type ExpiryChecker interface {
	NeedsRefresh(accessToken string) bool
}

type failureNotifier interface {
	OnFailure(obs token.FailureObserver)
}

// Pipeline is the single entry point for outbound API calls. One instance
// owns the dedup map, the refresh slot and the offline queue for the life of
// the application.
type Pipeline struct {
	transport Dispatcher
	dedup     *dedup.Deduplicator
	policy    *retry.Policy

	queue       Queue
	cache       Cache
	tokens      TokenProvider
	expiry      ExpiryChecker
	monitor     reachability.Monitor
	notifier    Notifier
	refreshPath string

	onSessionExpired []func(err error)
	stateObservers   []StateObserver
	// sourceReportsFailure is set when the token provider calls us back on
	// failed refreshes, so the pipeline must not report them a second time.
	sourceReportsFailure bool

	log            *zap.Logger
	throttle       *logger.LogThrottler
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        *pipelineMetrics
}

type Option func(*Pipeline)

func WithOfflineQueue(q Queue) Option {
	return func(p *Pipeline) { p.queue = q }
}

func WithResponseCache(c Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithTokens enables bearer auth and refresh on 401.
func WithTokens(t TokenProvider) Option {
	return func(p *Pipeline) { p.tokens = t }
}

// WithExpiryChecker enables refreshing before sending an expiring token.
func WithExpiryChecker(c ExpiryChecker) Option {
	return func(p *Pipeline) { p.expiry = c }
}

// WithReachability enables the offline branch. Without it the host is
// always considered online.
func WithReachability(m reachability.Monitor) Option {
	return func(p *Pipeline) { p.monitor = m }
}

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Pipeline) { p.meterProvider = mp }
}

// WithRefreshPath names the refresh endpoint. A 401 from it is final.
func WithRefreshPath(path string) Option {
	return func(p *Pipeline) { p.refreshPath = path }
}

// OnSessionExpired registers fn for terminal auth failures. Hosts log the
// user out here.
func OnSessionExpired(fn func(err error)) Option {
	return func(p *Pipeline) { p.onSessionExpired = append(p.onSessionExpired, fn) }
}

func WithStateObserver(obs StateObserver) Option {
	return func(p *Pipeline) { p.stateObservers = append(p.stateObservers, obs) }
}

func New(transport Dispatcher, dd *dedup.Deduplicator, policy *retry.Policy, opts ...Option) (*Pipeline, error) {
	if transport == nil {
		return nil, errors.New("pipeline requires a transport")
	}
	if dd == nil {
		return nil, errors.New("pipeline requires a deduplicator")
	}
	if policy == nil {
		return nil, errors.New("pipeline requires a retry policy")
	}

	p := &Pipeline{
		transport:   transport,
		dedup:       dd,
		policy:      policy,
		refreshPath: token.DefaultRefreshPath,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("component", "http-pipeline"))
	p.throttle = logger.NewLogThrottler(p.log, 0)
	if p.notifier == nil {
		p.notifier = NewLogNotifier(p.log)
	}
	if p.tracerProvider == nil {
		p.tracerProvider = otel.GetTracerProvider()
	}
	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	p.tracer = p.tracerProvider.Tracer("http-pipeline")

	m, err := newPipelineMetrics(p.meterProvider)
	if err != nil {
		return nil, err
	}
	p.metrics = m

	if src, ok := p.tokens.(failureNotifier); ok {
		src.OnFailure(p.expireSession)
		p.sourceReportsFailure = true
	}
	return p, nil
}

// Send runs d through the whole lifecycle and returns the response, or an
// *Error saying why there is none. Duplicates and queued requests are
// reported as errors too; see IsInformational.
func (p *Pipeline) Send(ctx context.Context, d request.Descriptor) (resp *request.Response, err error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline "+d.Method,
		trace.WithAttributes(
			attribute.String("http.request.method", d.Method),
			attribute.String("url.full", d.URL),
		),
	)
	defer span.End()
	if _, ok := logger.FromContext(ctx); !ok {
		ctx = logger.With(ctx, tracing.LoggerWithTrace(ctx, p.log))
	}
	defer func() {
		p.metrics.recordRequest(ctx, d.Method, resp, err)
		if err != nil && !IsInformational(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("pipeline.outcome", outcomeLabel(resp, err)))
	}()

	lc := newLifecycle(d, p.stateObservers, p.log)
	adm := p.dedup.Admit(ctx, d)
	if adm.Duplicate {
		lc.to(StateDuplicateCancelled)
		p.metrics.recordDedupHit(ctx, d.Method)
		return nil, &Error{Kind: KindDuplicateCancelled, Method: d.Method, URL: d.URL, admission: adm}
	}
	defer func() { p.dedup.Release(adm, resp, err) }()

	return p.run(adm.Context(), lc, d)
}

// run drives an admitted request from its first dispatch to a terminal state.
func (p *Pipeline) run(ctx context.Context, lc *lifecycle, d request.Descriptor) (*request.Response, error) {
	var (
		refreshCall = p.isRefreshCall(d)
		refreshed   bool
		accessToken string
		attempt     int
		sends       int
	)
	if p.tokens != nil {
		accessToken = p.tokens.CurrentToken()
	}

	if p.tokens != nil && p.expiry != nil && !refreshCall && p.expiry.NeedsRefresh(accessToken) {
		lc.to(StateAuthRefreshPending)
		pair, err := p.tokens.Refresh(ctx)
		if err != nil {
			return nil, p.refreshFailed(ctx, lc, d, sends, err)
		}
		accessToken = p.tokenAfterRefresh(pair)
		refreshed = true
	}

	for {
		lc.to(StateSent)
		sends++
		resp, err := p.transport.Do(ctx, d, accessToken)
		if err == nil {
			lc.to(StateSucceeded)
			if p.cache != nil {
				p.cache.Store(ctx, d, resp)
			}
			return resp, nil
		}

		if ctx.Err() != nil {
			lc.to(StateCancelled)
			return nil, p.newError(KindCancelled, d, sends, context.Cause(ctx))
		}

		var statusErr *request.StatusError
		answered := errors.As(err, &statusErr)

		if !answered && !errors.Is(err, retry.ErrPermanent) && p.isOffline() {
			if d.IsMutating() {
				if p.enqueue(ctx, d) {
					lc.to(StateOfflineQueued)
					return nil, p.newError(KindOfflineQueued, d, sends, err)
				}
			} else if cached, ok := p.lookupCache(ctx, d); ok {
				lc.to(StateSucceeded)
				return cached, nil
			}
		}

		if answered && statusErr.StatusCode() == http.StatusUnauthorized && p.tokens != nil && !refreshCall {
			if refreshed {
				lc.to(StateFailed)
				authErr := p.newError(KindAuthExpired, d, sends, err)
				p.expireSession(authErr)
				return nil, authErr
			}
			lc.to(StateAuthRefreshPending)
			pair, rerr := p.tokens.Refresh(ctx)
			if rerr != nil {
				return nil, p.refreshFailed(ctx, lc, d, sends, rerr)
			}
			accessToken = p.tokenAfterRefresh(pair)
			refreshed = true
			continue
		}

		if !d.Opts.NoRetry && p.policy.ShouldRetry(err, attempt) {
			lc.to(StateRetrying)
			p.metrics.recordRetry(ctx, d.Method)
			p.log.Debug("retrying request",
				zap.String("request", d.String()), zap.Int("attempt", attempt), zap.Error(err))
			if werr := p.policy.ExecuteRetry(ctx, err, attempt); werr != nil {
				lc.to(StateCancelled)
				return nil, p.newError(KindCancelled, d, sends, cancelCause(ctx, werr))
			}
			attempt++
			continue
		}

		lc.to(StateFailed)
		return nil, p.newError(p.classify(d, err, statusErr), d, sends, err)
	}
}

// classify picks the Kind for a failure that will not be retried again.
func (p *Pipeline) classify(d request.Descriptor, err error, statusErr *request.StatusError) Kind {
	switch {
	case !d.Opts.NoRetry && retry.IsRetryable(err):
		return KindRetryExhausted
	case statusErr != nil && statusErr.StatusCode() >= 400 && statusErr.StatusCode() < 500:
		return KindClientError
	default:
		return KindTransport
	}
}

func (p *Pipeline) refreshFailed(ctx context.Context, lc *lifecycle, d request.Descriptor, sends int, err error) error {
	if ctx.Err() != nil {
		lc.to(StateCancelled)
		return p.newError(KindCancelled, d, sends, context.Cause(ctx))
	}
	lc.to(StateFailed)
	authErr := p.newError(KindAuthExpired, d, sends, err)
	if !p.sourceReportsFailure {
		p.expireSession(authErr)
	}
	return authErr
}

func (p *Pipeline) tokenAfterRefresh(pair token.TokenPair) string {
	if pair.AccessToken != "" {
		return pair.AccessToken
	}
	return p.tokens.CurrentToken()
}

func (p *Pipeline) expireSession(err error) {
	p.log.Warn("session expired", zap.Error(err))
	p.notifier.Notify(context.Background(), Notification{
		Kind:    NotificationSessionExpired,
		Message: "Your session has expired, please sign in again",
	})
	for _, fn := range p.onSessionExpired {
		fn(err)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, d request.Descriptor) bool {
	if p.queue == nil {
		return false
	}
	ok, err := p.queue.Enqueue(ctx, d)
	if err != nil {
		logger.Get(ctx).Error("failed to queue request for replay", zap.String("request", d.String()), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	p.throttle.Warn(offlineWarnKey, "network offline, requests are queued for replay",
		zap.String("request", d.String()))
	p.notifier.Notify(ctx, notification(NotificationPending, d,
		"You are offline. The change was saved and will be sent when the connection is back"))
	return true
}

func (p *Pipeline) lookupCache(ctx context.Context, d request.Descriptor) (*request.Response, bool) {
	if p.cache == nil {
		return nil, false
	}
	resp, ok := p.cache.Lookup(ctx, d)
	if ok {
		p.throttle.Warn(offlineWarnKey, "network offline, serving cached responses",
			zap.String("request", d.String()))
	}
	return resp, ok
}

func (p *Pipeline) isOffline() bool {
	return p.monitor != nil && !p.monitor.IsOnline()
}

// isRefreshCall reports requests that must not trigger a refresh themselves.
func (p *Pipeline) isRefreshCall(d request.Descriptor) bool {
	if d.Opts.SkipAuthRefresh {
		return true
	}
	if p.refreshPath == "" {
		return false
	}
	u, err := url.Parse(d.URL)
	return err == nil && u.Path == p.refreshPath
}

func (p *Pipeline) newError(kind Kind, d request.Descriptor, sends int, err error) *Error {
	return &Error{Kind: kind, Method: d.Method, URL: d.URL, Attempts: sends, Err: err}
}

// CancelAll aborts every in-flight request, e.g. on logout or navigation.
func (p *Pipeline) CancelAll(reason error) int {
	return p.dedup.CancelAll(reason)
}

// SweepStale cancels and forgets in-flight entries older than maxAge.
func (p *Pipeline) SweepStale(maxAge time.Duration) int {
	return p.dedup.SweepStale(maxAge)
}

func cancelCause(ctx context.Context, fallback error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return fallback
}
