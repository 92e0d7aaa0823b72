package stream

import "sync"

// Behavior holds a current value and replays it to new subscribers. A
// Behavior created with NewBehavior has no value until the first Next, and
// subscribers see nothing until then.
type Behavior[T any] struct {
	mu    sync.Mutex
	value T
	has   bool
	err   error
	done  bool
	em    emitter[T]
}

func NewBehavior[T any]() *Behavior[T] {
	return &Behavior[T]{}
}

// NewBehaviorWith starts with v as the current value.
func NewBehaviorWith[T any](v T) *Behavior[T] {
	return &Behavior[T]{value: v, has: true}
}

// Value returns the current value and whether there is one.
func (b *Behavior[T]) Value() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.has
}

// Err returns the terminal error, if the behavior failed.
func (b *Behavior[T]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Closed reports whether the behavior has errored or completed.
func (b *Behavior[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Observers is the number of live subscriptions.
func (b *Behavior[T]) Observers() int {
	return b.em.count()
}

// Next sets the current value and emits it. No-op once closed.
func (b *Behavior[T]) Next(v T) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.value, b.has = v, true
	b.em.enqueue(notification[T]{kind: kindNext, value: v})
	b.mu.Unlock()
	b.em.drain()
}

// Init sets and emits v only if the behavior has no value yet, reporting
// whether it did. The check and the emission are one step, so a concurrent
// Next is never overwritten by Init.
func (b *Behavior[T]) Init(v T) bool {
	b.mu.Lock()
	if b.done || b.has {
		b.mu.Unlock()
		return false
	}
	b.value, b.has = v, true
	b.em.enqueue(notification[T]{kind: kindNext, value: v})
	b.mu.Unlock()
	b.em.drain()
	return true
}

// Error terminates the behavior with err.
func (b *Behavior[T]) Error(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done, b.err = true, err
	b.em.enqueue(notification[T]{kind: kindError, err: err})
	b.mu.Unlock()
	b.em.drain()
}

// Complete terminates the behavior normally.
func (b *Behavior[T]) Complete() {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	b.em.enqueue(notification[T]{kind: kindComplete})
	b.mu.Unlock()
	b.em.drain()
}

func (b *Behavior[T]) Subscribe(o Observer[T]) *Subscription {
	obs := &observer[T]{Observer: o}
	b.mu.Lock()
	switch {
	case b.err != nil:
		b.em.enqueue(notification[T]{kind: kindError, err: b.err, target: obs})
	case b.done:
		b.em.enqueue(notification[T]{kind: kindComplete, target: obs})
	default:
		b.em.add(obs)
		if b.has {
			b.em.enqueue(notification[T]{kind: kindNext, value: b.value, target: obs})
		}
	}
	b.mu.Unlock()
	b.em.drain()
	return newSubscription(func() { b.em.remove(obs) })
}
