// Package stream provides push-based value streams with explicit
// subscription lifetimes: behavior subjects that replay their latest value,
// and combinators over them.
//
// Delivery is synchronous and ordered. An emission made while a delivery is
// already running on the same stream is queued and delivered by the running
// loop, so observers may emit from inside their callbacks without deadlock.
package stream

import (
	"sync"
	"sync/atomic"
)

// Observer receives notifications. Nil callbacks are skipped.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Stream is anything that can be subscribed to.
type Stream[T any] interface {
	Subscribe(o Observer[T]) *Subscription
}

// Subscription ties an observer to a stream until Unsubscribe is called.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe stops delivery to the observer. Safe to call more than once
// and on a nil subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type kind int

const (
	kindNext kind = iota
	kindError
	kindComplete
)

type notification[T any] struct {
	kind   kind
	value  T
	err    error
	target *observer[T] // nil means every observer
}

type observer[T any] struct {
	Observer[T]
	closed atomic.Bool
}

func (o *observer[T]) deliver(n notification[T]) {
	if o.closed.Load() {
		return
	}
	switch n.kind {
	case kindNext:
		if o.Next != nil {
			o.Next(n.value)
		}
	case kindError:
		o.closed.Store(true)
		if o.Error != nil {
			o.Error(n.err)
		}
	case kindComplete:
		o.closed.Store(true)
		if o.Complete != nil {
			o.Complete()
		}
	}
}

// emitter owns the observer list and the delivery queue.
type emitter[T any] struct {
	mu        sync.Mutex
	observers []*observer[T]
	queue     []notification[T]
	draining  bool
}

func (e *emitter[T]) add(o *observer[T]) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

func (e *emitter[T]) remove(o *observer[T]) {
	o.closed.Store(true)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, v := range e.observers {
		if v == o {
			e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
			return
		}
	}
}

func (e *emitter[T]) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observers)
}

func (e *emitter[T]) enqueue(n notification[T]) {
	e.mu.Lock()
	e.queue = append(e.queue, n)
	e.mu.Unlock()
}

// drain delivers queued notifications unless another call is already doing so.
func (e *emitter[T]) drain() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		n := e.queue[0]
		e.queue = e.queue[1:]
		var targets []*observer[T]
		if n.target != nil {
			targets = []*observer[T]{n.target}
		} else {
			targets = make([]*observer[T], len(e.observers))
			copy(targets, e.observers)
		}
		if n.kind != kindNext && n.target == nil {
			e.observers = nil
		}
		e.mu.Unlock()
		for _, o := range targets {
			o.deliver(n)
		}
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}
