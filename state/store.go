package state

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// subscriberBuffer bounds how many events a slow observer may fall behind
// before drops begin.
const subscriberBuffer = 64

// Store is the single-writer, multi-reader home of the AppState plus the
// broadcast channel fan-out. Mutation and event emission happen under one
// critical section, so an observer reading the snapshot on event arrival
// always sees the post-event state.
type Store struct {
	mu      sync.RWMutex
	current AppState
	subs    map[uint64]chan Event
	nextSub uint64
}

// NewStore creates a store with the given initial state.
func NewStore(initial AppState) *Store {
	return &Store{
		current: initial,
		subs:    make(map[uint64]chan Event),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies the mutation and then broadcasts the events, in that order.
// Slow subscribers lose events rather than block the writer.
func (s *Store) Update(mutate func(*AppState), events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mutate != nil {
		mutate(&s.current)
	}

	for _, event := range events {
		for id, ch := range s.subs {
			select {
			case ch <- event:
			default:
				logrus.WithFields(logrus.Fields{
					"function":   "Store.Update",
					"subscriber": id,
					"event":      event.Kind(),
				}).Debug("Dropping event for slow subscriber")
			}
		}
	}
}

// Publish broadcasts events without touching the state.
func (s *Store) Publish(events ...Event) {
	s.Update(nil, events...)
}

// Subscribe registers an observer. The returned channel first yields a
// synthetic Initial event holding the snapshot taken at registration, then
// every subsequent event, with no gap in between. The cancel function must
// be called to release the subscription.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan Event, subscriberBuffer)
	ch <- Initial{State: s.current}
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount reports how many observers are attached.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
