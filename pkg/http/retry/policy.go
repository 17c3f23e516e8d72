package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// ErrPermanent marks failures that must not be retried whatever their cause,
// such as a body that cannot be encoded.
var ErrPermanent = errors.New("permanent failure")

// Observer is told about every retry before its delay starts.
type Observer func(err error, attempt int, delay time.Duration)

// Policy decides whether a failed attempt is retried and how long to wait.
// The attempt counter is owned by the caller, so one Policy serves any number
// of concurrent requests.
type Policy struct {
	maxRetries   int
	initialDelay time.Duration
	factor       float64
	maxDelay     time.Duration
	jitter       float64

	clock     Clock
	random    func() float64
	observers []Observer
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Policy) {
		p.clock = c
	}
}

// WithRandom replaces the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(p *Policy) {
		p.random = f
	}
}

// WithObserver registers an observer for ExecuteRetry.
func WithObserver(o Observer) Option {
	return func(p *Policy) {
		p.observers = append(p.observers, o)
	}
}

// NewPolicy builds a Policy from cfg. Nil fields take defaults.
func NewPolicy(cfg Config, opts ...Option) (*Policy, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	p := &Policy{
		maxRetries:   *cfg.MaxRetries,
		initialDelay: *cfg.InitialDelay,
		factor:       *cfg.BackoffFactor,
		maxDelay:     *cfg.MaxDelay,
		jitter:       *cfg.Jitter,
		clock:        realClock{},
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MaxRetries is the number of retries allowed after the first attempt.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry reports whether a request that failed with err on the given
// zero-based attempt may be sent again.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.maxRetries && IsRetryable(err)
}

// IsRetryable classifies err independent of attempt count: failures where no
// response arrived (including timeouts) and statuses 408, 429 and 5xx are
// transient. Caller cancellation and ErrPermanent never are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrPermanent) {
		return false
	}
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		return IsRetryableStatus(statusErr.StatusCode())
	}
	return true
}

// IsRetryableStatus reports whether a response status is worth retrying.
func IsRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		(code >= 500 && code <= 599)
}

// NextDelay returns the jittered backoff for a zero-based attempt:
// min(maxDelay, initialDelay*factor^attempt) moved by up to ±jitter, and never
// above maxDelay.
func (p *Policy) NextDelay(attempt int) time.Duration {
	attempt = max(attempt, 0)
	base := float64(p.initialDelay) * math.Pow(p.factor, float64(attempt))
	base = math.Min(base, float64(p.maxDelay))

	if p.jitter > 0 {
		base += base * p.jitter * (p.random()*2 - 1)
	}

	return time.Duration(math.Max(0, math.Min(base, float64(p.maxDelay))))
}

// DelayFor is NextDelay unless the server asked for a specific wait through
// Retry-After on a 429 or 503, which is honored up to maxDelay.
func (p *Policy) DelayFor(err error, attempt int) time.Duration {
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable {
			if d, ok := statusErr.RetryAfter(p.clock.Now()); ok {
				return min(d, p.maxDelay)
			}
		}
	}
	return p.NextDelay(attempt)
}

// ExecuteRetry notifies observers and then waits out the delay for attempt.
// Observers run before the wait so an aborted retry is still reported.
// It returns ctx.Err() if ctx ends first.
func (p *Policy) ExecuteRetry(ctx context.Context, err error, attempt int) error {
	delay := p.DelayFor(err, attempt)
	for _, o := range p.observers {
		o(err, attempt, delay)
	}
	return p.clock.Sleep(ctx, delay)
}
