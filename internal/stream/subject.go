package stream

import "sync"

// Subject forwards values to its current subscribers without replaying
// anything to late ones.
type Subject[T any] struct {
	mu   sync.Mutex
	done bool
	em   emitter[T]
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.em.enqueue(notification[T]{kind: kindNext, value: v})
	s.mu.Unlock()
	s.em.drain()
}

// Complete ends every subscription; later subscribers complete at once.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.em.enqueue(notification[T]{kind: kindComplete})
	s.mu.Unlock()
	s.em.drain()
}

func (s *Subject[T]) Subscribe(o Observer[T]) *Subscription {
	obs := &observer[T]{Observer: o}
	s.mu.Lock()
	if s.done {
		s.em.enqueue(notification[T]{kind: kindComplete, target: obs})
	} else {
		s.em.add(obs)
	}
	s.mu.Unlock()
	s.em.drain()
	return newSubscription(func() { s.em.remove(obs) })
}
