package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
)

// sweepEvery is how many writes pass between sweeps of expired keys, so keys
// that are never read again do not pile up.
const sweepEvery = 64

type item struct {
	value     []byte
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// Store is an in-process persistence.Store. Values do not survive a restart,
// which makes it suitable for tests and for hosts without a database.
type Store struct {
	mu     sync.Mutex
	items  map[string]item
	now    func() time.Time
	writes int
}

// Option configures a Store.
type Option func(*Store)

// WithNow replaces the clock used for expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{items: make(map[string]item), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ persistence.Store = (*Store)(nil)

// Get returns a copy of the value. An expired key is deleted.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if it.expired(s.now()) {
		delete(s.items, key)
		return nil, persistence.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = it
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweepLocked()
	}
	return nil
}

// Sweep deletes every expired key and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Store) sweepLocked() int {
	now := s.now()
	n := 0
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
			n++
		}
	}
	return n
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored keys, including expired ones not yet
// removed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
