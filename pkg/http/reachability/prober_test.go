package reachability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(url string) Config {
	cfg := Config{ProbeURL: url}
	cfg.applyDefaults()
	return cfg
}

func TestProber_Probe(t *testing.T) {
	t.Run("any response means online", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		p := NewProber(NewStatus(false), testConfig(srv.URL), zap.NewNop())

		assert.True(t, p.Probe(context.Background()))
	})

	t.Run("connection error means offline", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		p := NewProber(NewStatus(true), testConfig(url), zap.NewNop())

		assert.False(t, p.Probe(context.Background()))
	})

	t.Run("invalid url means offline", func(t *testing.T) {
		p := NewProber(NewStatus(true), testConfig("://bad"), zap.NewNop())

		assert.False(t, p.Probe(context.Background()))
	})
}

func TestProber_BackoffGrowsAndResets(t *testing.T) {
	cfg := testConfig("http://localhost")
	*cfg.InitialBackoff = 100 * time.Millisecond
	*cfg.MaxBackoff = 350 * time.Millisecond
	p := NewProber(NewStatus(true), cfg, zap.NewNop(), WithRandomization(0))

	assert.Equal(t, 100*time.Millisecond, p.next(false))
	assert.Equal(t, 150*time.Millisecond, p.next(false))
	assert.Equal(t, 225*time.Millisecond, p.next(false))
	assert.Equal(t, 337500*time.Microsecond, p.next(false))
	assert.Equal(t, 350*time.Millisecond, p.next(false))

	assert.Equal(t, DefaultInterval, p.next(true))
	assert.Equal(t, 100*time.Millisecond, p.next(false))
}

func TestProber_RunUpdatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status := NewStatus(false)
	changed := make(chan bool, 1)
	status.Subscribe(func(online bool) { changed <- online })
	p := NewProber(status, testConfig(srv.URL), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case online := <-changed:
		assert.True(t, online)
	case <-time.After(5 * time.Second):
		t.Fatal("status was not updated")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestProber_RunWithoutURLWaits(t *testing.T) {
	p := NewProber(NewStatus(true), testConfig(""), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestNewConfig(t *testing.T) {
	v := viper.New()
	v.Set("resilience.reachability.probe-url", "http://api/health")
	v.Set("resilience.reachability.interval", "5s")

	cfg, err := NewConfig(v)

	require.NoError(t, err)
	assert.Equal(t, "http://api/health", cfg.ProbeURL)
	assert.Equal(t, 5*time.Second, *cfg.Interval)
	assert.Equal(t, DefaultTimeout, *cfg.Timeout)
	assert.Equal(t, DefaultMaxBackoff, *cfg.MaxBackoff)

	v.Set("resilience.reachability.max-backoff", "1ms")
	_, err = NewConfig(v)
	assert.Error(t, err)
}
