package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
)

const (
	DefaultTTL = 10 * time.Minute
	keyPrefix  = "response_cache:"
)

// Config is the response-cache section:
//
//	resilience:
//	  response-cache:
//	    enabled: true
//	    ttl: 10m
type Config struct {
	Enabled *bool          `mapstructure:"enabled"`
	TTL     *time.Duration `mapstructure:"ttl"`
}

// NewConfig reads resilience.response-cache from v.
func NewConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("resilience.response-cache", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load response cache config: %w", err)
	}
	cfg.applyDefaults()
	if *cfg.TTL < 0 {
		return Config{}, errors.New("invalid response cache config: ttl must not be negative")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Enabled == nil {
		c.Enabled = lo.ToPtr(true)
	}
	if c.TTL == nil {
		c.TTL = lo.ToPtr(DefaultTTL)
	}
}

type entry struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	StoredAt   time.Time   `json:"storedAt"`
}

// Cache keeps the last successful response of read requests so they can be
// served while the host is offline.
type Cache struct {
	store   persistence.Store
	enabled bool
	ttl     time.Duration
	keyFunc request.KeyFunc
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Cache)

func WithKeyFunc(fn request.KeyFunc) Option {
	return func(c *Cache) { c.keyFunc = fn }
}

func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(store persistence.Store, cfg Config, log *zap.Logger, opts ...Option) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		store:   store,
		enabled: *cfg.Enabled,
		ttl:     *cfg.TTL,
		keyFunc: request.Fingerprint,
		now:     time.Now,
		log:     log.With(zap.String("component", "response-cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) cacheable(d request.Descriptor) bool {
	return c.enabled && !d.Opts.NoCache && d.Method == http.MethodGet
}

// Store saves a successful response for d. Failures are logged; the cache
// never fails a request.
func (c *Cache) Store(ctx context.Context, d request.Descriptor, resp *request.Response) {
	if resp == nil || !resp.Success() || !c.cacheable(d) {
		return
	}
	data, err := json.Marshal(entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		StoredAt:   c.now(),
	})
	if err != nil {
		c.log.Warn("failed to encode cached response", zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, keyPrefix+c.keyFunc(d), data, c.ttl); err != nil {
		c.log.Warn("failed to store cached response", zap.String("request", d.String()), zap.Error(err))
	}
}

// Lookup returns the cached response for d, marked FromCache.
func (c *Cache) Lookup(ctx context.Context, d request.Descriptor) (*request.Response, bool) {
	if !c.cacheable(d) {
		return nil, false
	}
	data, err := c.store.Get(ctx, keyPrefix+c.keyFunc(d))
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			c.log.Warn("failed to read cached response", zap.String("request", d.String()), zap.Error(err))
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.log.Warn("discarding unreadable cached response", zap.Error(err))
		return nil, false
	}
	return &request.Response{
		StatusCode: e.StatusCode,
		Header:     e.Header,
		Body:       e.Body,
		FromCache:  true,
	}, true
}
