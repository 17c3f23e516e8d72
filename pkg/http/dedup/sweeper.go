package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultStaleAfter    = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Config is the dedup section:
//
//	resilience:
//	  dedup:
//	    stale-after: 2m
//	    sweep-interval: 30s
type Config struct {
	StaleAfter    *time.Duration `mapstructure:"stale-after"`
	SweepInterval *time.Duration `mapstructure:"sweep-interval"`
}

// NewConfig reads resilience.dedup from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.dedup", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load dedup config: %w", err)
	}
	cfg.applyDefaults()
	if *cfg.StaleAfter <= 0 || *cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("invalid dedup config: stale-after and sweep-interval must be positive")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StaleAfter == nil {
		c.StaleAfter = lo.ToPtr(DefaultStaleAfter)
	}
	if c.SweepInterval == nil {
		c.SweepInterval = lo.ToPtr(DefaultSweepInterval)
	}
}

// Sweeper periodically calls SweepStale. It is meant to run as a worker.
type Sweeper struct {
	dedup    *Deduplicator
	interval time.Duration
	maxAge   time.Duration
	log      *zap.Logger
}

// NewSweeper creates a Sweeper for d.
func NewSweeper(d *Deduplicator, cfg Config, log *zap.Logger) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{
		dedup:    d,
		interval: *cfg.SweepInterval,
		maxAge:   *cfg.StaleAfter,
		log:      log.With(zap.String("component", "dedup-sweeper")),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.dedup.SweepStale(s.maxAge); n > 0 {
				s.log.Warn("stale in-flight requests removed", zap.Int("count", n))
			}
		}
	}
}
