package reachability

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Prober checks a health URL and feeds the result into a Status. While the
// host is unreachable it re-probes on an exponential schedule.
type Prober struct {
	status   *Status
	client   *http.Client
	url      string
	interval time.Duration
	backoff  *backoff.ExponentialBackOff
	log      *zap.Logger
}

type ProberOption func(*Prober)

// WithHTTPClient replaces the probe client. Its timeout is left as given.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

// WithRandomization sets the backoff randomization factor, 0.5 by default.
func WithRandomization(factor float64) ProberOption {
	return func(p *Prober) { p.backoff.RandomizationFactor = factor }
}

func NewProber(status *Status, cfg Config, log *zap.Logger, opts ...ProberOption) *Prober {
	cfg.applyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = *cfg.InitialBackoff
	b.MaxInterval = *cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	p := &Prober{
		status:   status,
		client:   &http.Client{Timeout: *cfg.Timeout},
		url:      cfg.ProbeURL,
		interval: *cfg.Interval,
		backoff:  b,
		log:      log.With(zap.String("component", "reachability-prober")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe reports whether the probe URL answered. Any HTTP response counts:
// a 503 still proves the network path works.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.log.Error("invalid probe url", zap.String("url", p.url), zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("probe failed", zap.Error(err))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}

// Run probes until ctx is cancelled. With no probe URL it only waits, so the
// Status stays under the host's control.
func (p *Prober) Run(ctx context.Context) error {
	if p.url == "" {
		p.log.Info("reachability probing disabled")
		<-ctx.Done()
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if p.status.Set(online) {
			p.log.Info("reachability changed", zap.Bool("online", online))
		}
		timer.Reset(p.next(online))
	}
}

func (p *Prober) next(online bool) time.Duration {
	if online {
		p.backoff.Reset()
		return p.interval
	}
	return p.backoff.NextBackOff()
}
