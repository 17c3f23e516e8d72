package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Sokol111/ecommerce-resilience/pkg/core/logger"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

func TestState_Terminal(t *testing.T) {
	terminal := []State{StateSucceeded, StateDuplicateCancelled, StateOfflineQueued, StateFailed, StateCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateAdmitted, StateSent, StateAuthRefreshPending, StateRetrying} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.Equal(t, "unknown", State(99).String())
}

func TestLifecycle_IllegalTransitionPanicsInDevelopment(t *testing.T) {
	d := request.MustNew(http.MethodGet, "/users")
	lc := newLifecycle(d, nil, zaptest.NewLogger(t, zaptest.WrapOptions(zap.Development())))

	assert.Panics(t, func() { lc.to(StateRetrying) })
}

func TestLifecycle_IllegalTransitionLoggedInProduction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := request.MustNew(http.MethodGet, "/users")
	var seen []State
	lc := newLifecycle(d, []StateObserver{func(_ request.Descriptor, _, to State) { seen = append(seen, to) }}, zap.New(core))

	lc.to(StateSent)
	lc.to(StateSucceeded)
	lc.to(StateSent)

	assert.Equal(t, []State{StateSent, StateSucceeded, StateSent}, seen)
	assert.Equal(t, 1, logs.FilterMessage("illegal request state transition").Len())
}

func TestKind_StringAndSentinels(t *testing.T) {
	assert.Equal(t, "auth_expired", KindAuthExpired.String())
	assert.Equal(t, "kind(42)", Kind(42).String())

	err := &Error{Kind: KindCancelled, Method: "GET", URL: "/users", Err: context.Canceled}
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "GET /users: request cancelled: context canceled", err.Error())
	assert.Zero(t, err.StatusCode())

	assert.False(t, IsInformational(errors.New("boom")))
	assert.Zero(t, KindOf(errors.New("boom")))
}

func TestLogNotifier_PrefersContextLogger(t *testing.T) {
	fallbackCore, fallback := observer.New(zap.InfoLevel)
	ctxCore, scoped := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(fallbackCore))
	note := Notification{Kind: NotificationPending, Method: "POST", URL: "/orders", Message: "saved"}

	n.Notify(context.Background(), note)
	n.Notify(logger.With(context.Background(), zap.New(ctxCore)), note)

	assert.Equal(t, 1, fallback.Len())
	assert.Equal(t, 1, scoped.Len())
	assert.Equal(t, "pending", scoped.All()[0].ContextMap()["notification"])
}
