package stream

import "sync"

// AllTrue combines boolean streams into one that is true iff every input's
// latest value is true. Like combine-latest, nothing is emitted until every
// input has produced a value; after that the result is recomputed on every
// input emission. With no inputs it emits true at once. An error on any
// input is forwarded and ends the combined subscription.
func AllTrue(inputs []Stream[bool]) Stream[bool] {
	return combined{inputs: inputs}
}

type combined struct {
	inputs []Stream[bool]
}

func (c combined) Subscribe(o Observer[bool]) *Subscription {
	st := &combineState{
		values: make([]bool, len(c.inputs)),
		has:    make([]bool, len(c.inputs)),
	}
	obs := &observer[bool]{Observer: o}
	st.em.add(obs)

	if len(c.inputs) == 0 {
		st.em.enqueue(notification[bool]{kind: kindNext, value: true})
		st.em.drain()
		return newSubscription(func() { st.em.remove(obs) })
	}

	sub := newSubscription(func() {
		st.em.remove(obs)
		st.stop()
	})
	for i, in := range c.inputs {
		i := i
		s := in.Subscribe(Observer[bool]{
			Next:  func(v bool) { st.update(i, v) },
			Error: func(err error) { st.fail(err) },
		})
		st.mu.Lock()
		if st.stopped {
			st.mu.Unlock()
			s.Unsubscribe()
			break
		}
		st.inner = append(st.inner, s)
		st.mu.Unlock()
	}
	return sub
}

type combineState struct {
	mu      sync.Mutex
	values  []bool
	has     []bool
	ready   int
	stopped bool
	inner   []*Subscription
	em      emitter[bool]
}

func (s *combineState) update(i int, v bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !s.has[i] {
		s.has[i] = true
		s.ready++
	}
	s.values[i] = v
	if s.ready < len(s.values) {
		s.mu.Unlock()
		return
	}
	all := true
	for _, b := range s.values {
		if !b {
			all = false
			break
		}
	}
	s.em.enqueue(notification[bool]{kind: kindNext, value: all})
	s.mu.Unlock()
	s.em.drain()
}

func (s *combineState) fail(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.em.enqueue(notification[bool]{kind: kindError, err: err})
	s.mu.Unlock()
	s.em.drain()
	s.stop()
}

func (s *combineState) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	inner := s.inner
	s.inner = nil
	s.mu.Unlock()
	for _, sub := range inner {
		sub.Unsubscribe()
	}
}
