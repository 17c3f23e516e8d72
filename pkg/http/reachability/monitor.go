package reachability

import (
	"sync"
)

// Monitor reports host reachability and notifies on transitions.
type Monitor interface {
	IsOnline() bool
	// Subscribe registers fn for online/offline transitions and returns a
	// function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type subscriber struct {
	id int
	fn func(online bool)
}

// Status is a Monitor whose state is set from outside, by the Prober or by
// the host platform's own connectivity events.
type Status struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   []subscriber
}

var _ Monitor = (*Status)(nil)

func NewStatus(online bool) *Status {
	return &Status{online: online}
}

func (s *Status) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the current reachability. Subscribers are called, in
// subscription order and outside the lock, only when the value changes.
func (s *Status) Set(online bool) bool {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(online)
	}
	return true
}

func (s *Status) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}
