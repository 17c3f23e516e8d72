package dedup

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

func getUsers(opts ...request.Option) request.Descriptor {
	return request.MustNew(http.MethodGet, "/users", append([]request.Option{request.WithQueryParam("page", "1")}, opts...)...)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ============================================================================
// Admit / Release
// ============================================================================

func TestAdmit_SecondIdenticalIsDuplicate(t *testing.T) {
	d := New()

	first := d.Admit(context.Background(), getUsers())
	second := d.Admit(context.Background(), getUsers())

	assert.False(t, first.Duplicate)
	require.NotNil(t, first.Context())
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Context())
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, d.Len(), "duplicates create no entry")
}

func TestAdmit_DifferentKeysIndependent(t *testing.T) {
	d := New()

	a := d.Admit(context.Background(), getUsers())
	b := d.Admit(context.Background(), request.MustNew(http.MethodGet, "/users", request.WithQueryParam("page", "2")))

	assert.False(t, a.Duplicate)
	assert.False(t, b.Duplicate)
	assert.Equal(t, 2, d.Len())
}

func TestAdmit_ExemptDoesNotTouchState(t *testing.T) {
	d := New()
	owner := d.Admit(context.Background(), getUsers())

	exempt := d.Admit(context.Background(), getUsers(request.AllowDuplicate()))

	assert.False(t, exempt.Duplicate)
	assert.Empty(t, exempt.Key)
	assert.NotNil(t, exempt.Context())
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.InFlight(owner.Key))

	d.Release(exempt, nil, nil)
	assert.True(t, d.InFlight(owner.Key), "releasing an exempt admission leaves keyed entries")
}

func TestRelease_FreesKeyAndIsIdempotent(t *testing.T) {
	d := New()
	a := d.Admit(context.Background(), getUsers())

	d.Release(a, &request.Response{StatusCode: http.StatusOK}, nil)
	d.Release(a, nil, errors.New("late"))

	assert.Equal(t, 0, d.Len())
	assert.ErrorIs(t, a.Context().Err(), context.Canceled, "context resources released")

	again := d.Admit(context.Background(), getUsers())
	assert.False(t, again.Duplicate, "key is free after release")
}

func TestRelease_DuplicateIsNoop(t *testing.T) {
	d := New()
	owner := d.Admit(context.Background(), getUsers())
	dup := d.Admit(context.Background(), getUsers())

	d.Release(dup, nil, nil)

	assert.True(t, d.InFlight(owner.Key))
	assert.NoError(t, owner.Context().Err())
}

func TestRelease_Nil(t *testing.T) {
	assert.NotPanics(t, func() { New().Release(nil, nil, nil) })
}

func TestRelease_DoesNotRemoveReadmittedEntry(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	d := New(WithNow(clock.Now))
	old := d.Admit(context.Background(), getUsers())

	clock.Advance(time.Hour)
	require.Equal(t, 1, d.SweepStale(time.Minute))
	fresh := d.Admit(context.Background(), getUsers())
	require.False(t, fresh.Duplicate)

	d.Release(old, nil, errors.New("finally settled"))

	assert.True(t, d.InFlight(fresh.Key))
}

// ============================================================================
// Wait
// ============================================================================

func TestWait_DuplicateReceivesOwnerResult(t *testing.T) {
	d := New()
	owner := d.Admit(context.Background(), getUsers())
	dup := d.Admit(context.Background(), getUsers())
	want := &request.Response{StatusCode: http.StatusOK, Body: []byte(`[{"id":1}]`)}

	var got *request.Response
	var gotErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		got, gotErr = dup.Wait(context.Background())
	}()

	d.Release(owner, want, nil)
	<-done

	require.NoError(t, gotErr)
	assert.Same(t, want, got)
}

func TestWait_DuplicateReceivesOwnerError(t *testing.T) {
	d := New()
	owner := d.Admit(context.Background(), getUsers())
	dup := d.Admit(context.Background(), getUsers())
	boom := errors.New("boom")

	d.Release(owner, nil, boom)
	_, err := dup.Wait(context.Background())

	assert.ErrorIs(t, err, boom)
}

func TestWait_ContextCancelled(t *testing.T) {
	d := New()
	d.Admit(context.Background(), getUsers())
	dup := d.Admit(context.Background(), getUsers())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := dup.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWait_OwnerIsNotDuplicate(t *testing.T) {
	owner := New().Admit(context.Background(), getUsers())

	_, err := owner.Wait(context.Background())

	assert.ErrorIs(t, err, ErrNotDuplicate)
}

// ============================================================================
// CancelAll / SweepStale
// ============================================================================

func TestCancelAll(t *testing.T) {
	d := New()
	a := d.Admit(context.Background(), getUsers())
	b := d.Admit(context.Background(), request.MustNew(http.MethodDelete, "/users/1"))
	exempt := d.Admit(context.Background(), getUsers(request.AllowDuplicate()))
	logout := errors.New("logout")

	n := d.CancelAll(logout)

	assert.Equal(t, 3, n)
	assert.Equal(t, 0, d.Len())
	for _, adm := range []*Admission{a, b, exempt} {
		assert.ErrorIs(t, context.Cause(adm.Context()), logout)
	}

	// The owners still release; that must not panic or resurrect entries.
	d.Release(a, nil, a.Context().Err())
	d.Release(exempt, nil, exempt.Context().Err())
	assert.Equal(t, 0, d.Len())
}

func TestCancelAll_DefaultReason(t *testing.T) {
	d := New()
	a := d.Admit(context.Background(), getUsers())

	d.CancelAll(nil)

	assert.ErrorIs(t, context.Cause(a.Context()), ErrCancelled)
}

func TestCancelAll_WakesWaitersAfterOwnerReleases(t *testing.T) {
	d := New()
	owner := d.Admit(context.Background(), getUsers())
	dup := d.Admit(context.Background(), getUsers())

	d.CancelAll(nil)
	d.Release(owner, nil, owner.Context().Err())
	_, err := dup.Wait(context.Background())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepStale(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	d := New(WithNow(clock.Now))
	old := d.Admit(context.Background(), getUsers())
	dup := d.Admit(context.Background(), getUsers())
	clock.Advance(90 * time.Second)
	young := d.Admit(context.Background(), request.MustNew(http.MethodGet, "/orders"))

	n := d.SweepStale(time.Minute)

	assert.Equal(t, 1, n)
	assert.False(t, d.InFlight(old.Key))
	assert.True(t, d.InFlight(young.Key))
	assert.ErrorIs(t, context.Cause(old.Context()), ErrStale)
	_, err := dup.Wait(context.Background())
	assert.ErrorIs(t, err, ErrStale)
}

// ============================================================================
// Key function / concurrency
// ============================================================================

func TestWithKeyFunc_IgnoresVolatileField(t *testing.T) {
	d := New(WithKeyFunc(func(desc request.Descriptor) string {
		q := desc.Clone().Query
		q.Del("_ts")
		desc.Query = q
		return request.Fingerprint(desc)
	}))

	a := d.Admit(context.Background(), request.MustNew(http.MethodGet, "/users", request.WithQueryParam("_ts", "1")))
	b := d.Admit(context.Background(), request.MustNew(http.MethodGet, "/users", request.WithQueryParam("_ts", "2")))

	assert.False(t, a.Duplicate)
	assert.True(t, b.Duplicate)
}

func TestAdmit_ConcurrentExactlyOneOwner(t *testing.T) {
	d := New()
	var owners atomic.Int32
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Admit(context.Background(), getUsers()).Duplicate {
				owners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), owners.Load())
	assert.Equal(t, 1, d.Len())
}
