package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func statusErr(code int, header ...string) error {
	h := http.Header{}
	for i := 0; i+1 < len(header); i += 2 {
		h.Set(header[i], header[i+1])
	}
	return &request.StatusError{Response: &request.Response{StatusCode: code, Header: h}}
}

func constRandom(v float64) Option {
	return WithRandom(func() float64 { return v })
}

func mustPolicy(t *testing.T, cfg Config, opts ...Option) *Policy {
	t.Helper()
	p, err := NewPolicy(cfg, opts...)
	require.NoError(t, err)
	return p
}

// ============================================================================
// Eligibility
// ============================================================================

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "per attempt timeout", err: context.DeadlineExceeded, want: true},
		{name: "caller cancelled", err: fmt.Errorf("send: %w", context.Canceled), want: false},
		{name: "permanent", err: fmt.Errorf("encode body: %w", ErrPermanent), want: false},
		{name: "408", err: statusErr(http.StatusRequestTimeout), want: true},
		{name: "429", err: statusErr(http.StatusTooManyRequests), want: true},
		{name: "500", err: statusErr(http.StatusInternalServerError), want: true},
		{name: "503", err: statusErr(http.StatusServiceUnavailable), want: true},
		{name: "599", err: statusErr(599), want: true},
		{name: "400", err: statusErr(http.StatusBadRequest), want: false},
		{name: "401", err: statusErr(http.StatusUnauthorized), want: false},
		{name: "404", err: statusErr(http.StatusNotFound), want: false},
		{name: "422", err: statusErr(http.StatusUnprocessableEntity), want: false},
		{name: "wrapped 502", err: fmt.Errorf("dispatch: %w", statusErr(http.StatusBadGateway)), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestShouldRetry_DefaultAttemptLimit(t *testing.T) {
	p := mustPolicy(t, Config{})
	noResponse := fmt.Errorf("dial: %w", syscall.ECONNRESET)

	for attempt := 0; attempt <= 2; attempt++ {
		assert.True(t, p.ShouldRetry(noResponse, attempt), "attempt %d", attempt)
	}
	assert.False(t, p.ShouldRetry(noResponse, 3))
	assert.False(t, p.ShouldRetry(noResponse, 4))
}

func TestShouldRetry_ZeroRetries(t *testing.T) {
	p := mustPolicy(t, Config{MaxRetries: lo.ToPtr(0)})

	assert.False(t, p.ShouldRetry(io.EOF, 0))
}

// ============================================================================
// Delays
// ============================================================================

func TestNextDelay_WithoutJitter(t *testing.T) {
	p := mustPolicy(t, Config{Jitter: lo.ToPtr(0.0)})

	expected := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for attempt, want := range expected {
		assert.Equal(t, want, p.NextDelay(attempt), "attempt %d", attempt)
	}
}

func TestNextDelay_JitterBand(t *testing.T) {
	tests := []struct {
		name   string
		random float64
		want   time.Duration
	}{
		{name: "lowest", random: 0, want: 1500 * time.Millisecond},
		{name: "middle", random: 0.5, want: 2 * time.Second},
		{name: "highest", random: 0.999999, want: 2499999 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPolicy(t, Config{}, constRandom(tt.random))

			got := p.NextDelay(1)

			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Millisecond))
		})
	}
}

func TestNextDelay_NeverExceedsMax(t *testing.T) {
	p := mustPolicy(t, Config{}, constRandom(0.999999))

	for attempt := range 64 {
		assert.LessOrEqual(t, p.NextDelay(attempt), DefaultMaxDelay, "attempt %d", attempt)
		assert.GreaterOrEqual(t, p.NextDelay(attempt), time.Duration(0))
	}
}

func TestNextDelay_NonDecreasingInExpectation(t *testing.T) {
	// Averaging over the whole jitter band approximates the expectation.
	var draws []float64
	for i := range 100 {
		draws = append(draws, float64(i)/100)
	}

	mean := func(attempt int) float64 {
		var sum float64
		for _, r := range draws {
			p := mustPolicy(t, Config{}, constRandom(r))
			sum += float64(p.NextDelay(attempt))
		}
		return sum / float64(len(draws))
	}

	prev := mean(0)
	for attempt := 1; attempt < 12; attempt++ {
		cur := mean(attempt)
		assert.GreaterOrEqual(t, cur, prev, "attempt %d", attempt)
		prev = cur
	}
}

func TestDelayFor_RetryAfter(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := mustPolicy(t, Config{Jitter: lo.ToPtr(0.0)}, WithClock(clock))

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{name: "429 seconds", err: statusErr(http.StatusTooManyRequests, "Retry-After", "5"), want: 5 * time.Second},
		{name: "503 date", err: statusErr(http.StatusServiceUnavailable, "Retry-After", clock.now.Add(12*time.Second).Format(http.TimeFormat)), want: 12 * time.Second},
		{name: "capped at max delay", err: statusErr(http.StatusTooManyRequests, "Retry-After", "3600"), want: DefaultMaxDelay},
		{name: "ignored on 500", err: statusErr(http.StatusInternalServerError, "Retry-After", "5"), want: 2 * time.Second},
		{name: "missing header", err: statusErr(http.StatusTooManyRequests), want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.DelayFor(tt.err, 1))
		})
	}
}

// ============================================================================
// ExecuteRetry
// ============================================================================

func TestExecuteRetry_ObserverBeforeSleep(t *testing.T) {
	clock := &fakeClock{}
	var events []string
	var observed time.Duration
	cause := errors.New("connection reset")

	p := mustPolicy(t, Config{Jitter: lo.ToPtr(0.0)},
		WithClock(recordingClock{fakeClock: clock, events: &events}),
		WithObserver(func(err error, attempt int, delay time.Duration) {
			assert.Same(t, cause, err)
			assert.Equal(t, 2, attempt)
			observed = delay
			events = append(events, "observe")
		}),
	)

	err := p.ExecuteRetry(context.Background(), cause, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"observe", "sleep"}, events)
	assert.Equal(t, 4*time.Second, observed)
	assert.Equal(t, []time.Duration{4 * time.Second}, clock.sleeps)
}

func TestExecuteRetry_CancelledDuringWait(t *testing.T) {
	observed := false
	p := mustPolicy(t, Config{InitialDelay: lo.ToPtr(time.Hour), MaxDelay: lo.ToPtr(time.Hour)},
		WithObserver(func(error, int, time.Duration) { observed = true }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := p.ExecuteRetry(ctx, io.EOF, 0)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, observed, "observer fires even when the retry is aborted")
}

type recordingClock struct {
	*fakeClock
	events *[]string
}

func (c recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	*c.events = append(*c.events, "sleep")
	return c.fakeClock.Sleep(ctx, d)
}

// ============================================================================
// Config
// ============================================================================

func TestNewPolicy_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative retries", cfg: Config{MaxRetries: lo.ToPtr(-1)}},
		{name: "zero initial delay", cfg: Config{InitialDelay: lo.ToPtr(time.Duration(0))}},
		{name: "shrinking factor", cfg: Config{BackoffFactor: lo.ToPtr(0.5)}},
		{name: "max below initial", cfg: Config{MaxDelay: lo.ToPtr(time.Millisecond)}},
		{name: "jitter too large", cfg: Config{Jitter: lo.ToPtr(1.0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultMaxRetries, *cfg.MaxRetries)
	assert.Equal(t, DefaultInitialDelay, *cfg.InitialDelay)
	assert.Equal(t, DefaultBackoffFactor, *cfg.BackoffFactor)
	assert.Equal(t, DefaultMaxDelay, *cfg.MaxDelay)
	assert.Equal(t, DefaultJitter, *cfg.Jitter)
}
