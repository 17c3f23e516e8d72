package pipeline

import (
	"slices"

	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// State is a step in the life of one Send call.
type State int

const (
	StateAdmitted State = iota
	StateSent
	StateAuthRefreshPending
	StateRetrying
	StateSucceeded
	StateDuplicateCancelled
	StateOfflineQueued
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateAdmitted:           "admitted",
	StateSent:               "sent",
	StateAuthRefreshPending: "auth_refresh_pending",
	StateRetrying:           "retrying",
	StateSucceeded:          "succeeded",
	StateDuplicateCancelled: "duplicate_cancelled",
	StateOfflineQueued:      "offline_queued",
	StateFailed:             "failed",
	StateCancelled:          "cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends the call.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// transitions lists the allowed next states. Terminal states have none.
var transitions = map[State][]State{
	StateAdmitted:           {StateSent, StateAuthRefreshPending, StateDuplicateCancelled},
	StateSent:               {StateSucceeded, StateOfflineQueued, StateAuthRefreshPending, StateRetrying, StateFailed, StateCancelled},
	StateAuthRefreshPending: {StateSent, StateFailed, StateCancelled},
	StateRetrying:           {StateSent, StateCancelled},
}

// StateObserver sees every transition of every call.
type StateObserver func(d request.Descriptor, from, to State)

// lifecycle tracks the state of one call and rejects transitions the
// machine does not allow.
type lifecycle struct {
	desc      request.Descriptor
	state     State
	observers []StateObserver
	log       *zap.Logger
}

func newLifecycle(d request.Descriptor, observers []StateObserver, log *zap.Logger) *lifecycle {
	return &lifecycle{desc: d, state: StateAdmitted, observers: observers, log: log}
}

// to moves to next. An illegal move is a bug in the pipeline: it panics in
// development and is logged in production, and the state changes either way.
func (l *lifecycle) to(next State) {
	from := l.state
	if !slices.Contains(transitions[from], next) {
		l.log.DPanic("illegal request state transition",
			zap.String("request", l.desc.String()),
			zap.Stringer("from", from),
			zap.Stringer("to", next))
	}
	l.state = next
	for _, obs := range l.observers {
		obs(l.desc, from, next)
	}
}
