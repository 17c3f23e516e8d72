package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

var (
	// ErrCancelled is the cancellation cause used by CancelAll without a reason.
	ErrCancelled = errors.New("request cancelled")
	// ErrStale is the cause given to entries removed by SweepStale.
	ErrStale = errors.New("in-flight request exceeded maximum age")
)

// Deduplicator tracks in-flight requests by key and allows at most one per key.
// Exempt requests are never keyed but are still cancelled by CancelAll.
// The zero value is not usable; call New.
type Deduplicator struct {
	mu      sync.Mutex
	entries map[string]*entry
	exempt  map[*Admission]struct{}

	keyFunc request.KeyFunc
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithKeyFunc replaces request.Fingerprint, e.g. to ignore a volatile field.
func WithKeyFunc(f request.KeyFunc) Option {
	return func(d *Deduplicator) {
		d.keyFunc = f
	}
}

// WithNow replaces the clock used for entry ages.
func WithNow(now func() time.Time) Option {
	return func(d *Deduplicator) {
		d.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Deduplicator) {
		d.log = log
	}
}

// New creates an empty Deduplicator.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		entries: make(map[string]*entry),
		exempt:  make(map[*Admission]struct{}),
		keyFunc: request.Fingerprint,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(zap.String("component", "dedup"))
	return d
}

// Admit registers desc as in flight. If an identical request is already in
// flight it returns a Duplicate admission and changes nothing. Requests with
// AllowDuplicate are admitted without being keyed. Every non-duplicate
// admission must be passed to Release when the request settles.
func (d *Deduplicator) Admit(ctx context.Context, desc request.Descriptor) *Admission {
	if desc.Opts.AllowDuplicate {
		reqCtx, cancel := context.WithCancelCause(ctx)
		a := &Admission{ctx: reqCtx, cancel: cancel}
		d.mu.Lock()
		d.exempt[a] = struct{}{}
		d.mu.Unlock()
		return a
	}

	key := d.keyFunc(desc)

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[key]; ok {
		d.log.Debug("duplicate request coalesced", zap.String("key", key))
		return &Admission{Key: key, Duplicate: true, shared: existing}
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	e := newEntry(key, d.now(), cancel)
	d.entries[key] = e
	return &Admission{Key: key, ctx: reqCtx, cancel: cancel, owned: e}
}

// Release settles the admission with the request's result, wakes coalesced
// waiters and frees the key. It is idempotent and ignores duplicates. An entry
// that was swept and re-admitted under the same key is left alone.
func (d *Deduplicator) Release(a *Admission, resp *request.Response, err error) {
	if a == nil || a.Duplicate || !a.done.CompareAndSwap(false, true) {
		return
	}

	d.mu.Lock()
	if a.owned == nil {
		delete(d.exempt, a)
	} else if d.entries[a.Key] == a.owned {
		delete(d.entries, a.Key)
	}
	d.mu.Unlock()

	if a.owned != nil {
		a.owned.settle(resp, err)
	}
	// Frees the context's resources; the request has finished with it.
	a.cancel(context.Canceled)
}

// CancelAll cancels every outstanding request and forgets all keys.
// It returns the number of requests cancelled.
func (d *Deduplicator) CancelAll(reason error) int {
	if reason == nil {
		reason = ErrCancelled
	}

	d.mu.Lock()
	entries := d.entries
	exempt := d.exempt
	d.entries = make(map[string]*entry)
	d.exempt = make(map[*Admission]struct{})
	d.mu.Unlock()

	for _, e := range entries {
		e.cancel(reason)
	}
	for a := range exempt {
		a.cancel(reason)
	}

	if n := len(entries) + len(exempt); n > 0 {
		d.log.Info("cancelled in-flight requests", zap.Int("count", n), zap.Error(reason))
	}
	return len(entries) + len(exempt)
}

// SweepStale cancels and removes keyed entries older than maxAge, waking any
// waiters with ErrStale. It returns the number swept.
func (d *Deduplicator) SweepStale(maxAge time.Duration) int {
	cutoff := d.now().Add(-maxAge)

	d.mu.Lock()
	var stale []*entry
	for key, e := range d.entries {
		if e.createdAt.Before(cutoff) {
			stale = append(stale, e)
			delete(d.entries, key)
		}
	}
	d.mu.Unlock()

	for _, e := range stale {
		e.cancel(ErrStale)
		e.settle(nil, ErrStale)
		d.log.Warn("swept stale in-flight request", zap.String("key", e.key), zap.Time("createdAt", e.createdAt))
	}
	return len(stale)
}

// Len returns the number of keyed in-flight requests.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// InFlight reports whether a request with key is in flight.
func (d *Deduplicator) InFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[key]
	return ok
}
