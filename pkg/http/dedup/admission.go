package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// ErrNotDuplicate is returned by Wait on an admission that owns its request.
var ErrNotDuplicate = errors.New("admission is not a duplicate")

// entry is the in-flight record for one key. done is closed once the owning
// request settles, after resp and err are set.
type entry struct {
	key       string
	createdAt time.Time
	cancel    context.CancelCauseFunc

	once sync.Once
	done chan struct{}
	resp *request.Response
	err  error
}

func newEntry(key string, createdAt time.Time, cancel context.CancelCauseFunc) *entry {
	return &entry{
		key:       key,
		createdAt: createdAt,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (e *entry) settle(resp *request.Response, err error) {
	e.once.Do(func() {
		e.resp, e.err = resp, err
		close(e.done)
	})
}

// Admission is the outcome of Deduplicator.Admit. An owning admission carries
// the context the request must be sent with; cancelling it, directly or via
// CancelAll, aborts the request. A duplicate admission carries no context of
// its own and can only Wait for the owner's result.
type Admission struct {
	// Key is the request fingerprint. Empty for exempt requests.
	Key string
	// Duplicate is true when an identical request was already in flight.
	Duplicate bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	owned  *entry
	shared *entry
	done   atomic.Bool
}

// Context returns the cancellable context for an owning admission, or nil for
// a duplicate.
func (a *Admission) Context() context.Context {
	return a.ctx
}

// Cancel aborts the owning request with cause. No-op for duplicates.
func (a *Admission) Cancel(cause error) {
	if a.cancel != nil {
		a.cancel(cause)
	}
}

// Wait blocks until the in-flight request this duplicate was coalesced into
// settles and returns its result. It returns ErrNotDuplicate for owners.
func (a *Admission) Wait(ctx context.Context) (*request.Response, error) {
	if a.shared == nil {
		return nil, ErrNotDuplicate
	}
	select {
	case <-a.shared.done:
		return a.shared.resp, a.shared.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
