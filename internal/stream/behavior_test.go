package stream

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder[T any] struct {
	mu       sync.Mutex
	values   []T
	err      error
	complete bool
}

func (r *recorder[T]) observer() Observer[T] {
	return Observer[T]{
		Next: func(v T) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
		Complete: func() {
			r.mu.Lock()
			r.complete = true
			r.mu.Unlock()
		},
	}
}

func (r *recorder[T]) got() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func TestBehaviorWithoutValueEmitsNothingOnSubscribe(t *testing.T) {
	b := NewBehavior[bool]()
	rec := &recorder[bool]{}
	b.Subscribe(rec.observer())
	assert.Empty(t, rec.got())

	_, ok := b.Value()
	assert.False(t, ok)

	b.Next(true)
	assert.Equal(t, []bool{true}, rec.got())
}

func TestBehaviorReplaysCurrentValue(t *testing.T) {
	b := NewBehaviorWith(3)
	b.Next(4)
	rec := &recorder[int]{}
	b.Subscribe(rec.observer())
	assert.Equal(t, []int{4}, rec.got())
}

func TestBehaviorUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBehavior[int]()
	rec := &recorder[int]{}
	sub := b.Subscribe(rec.observer())
	b.Next(1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Next(2)
	assert.Equal(t, []int{1}, rec.got())
	assert.Equal(t, 0, b.Observers())
}

func TestBehaviorErrorIsTerminal(t *testing.T) {
	b := NewBehavior[int]()
	rec := &recorder[int]{}
	b.Subscribe(rec.observer())
	boom := errors.New("boom")
	b.Error(boom)
	b.Next(1)
	assert.ErrorIs(t, rec.err, boom)
	assert.Empty(t, rec.got())
	assert.True(t, b.Closed())

	late := &recorder[int]{}
	b.Subscribe(late.observer())
	assert.ErrorIs(t, late.err, boom)
}

func TestBehaviorComplete(t *testing.T) {
	b := NewBehaviorWith("x")
	rec := &recorder[string]{}
	b.Subscribe(rec.observer())
	b.Complete()
	assert.True(t, rec.complete)
	assert.Equal(t, []string{"x"}, rec.got())
}

func TestBehaviorReentrantNextKeepsOrder(t *testing.T) {
	b := NewBehavior[int]()
	var got []int
	b.Subscribe(Observer[int]{Next: func(v int) {
		got = append(got, v)
		if v == 1 {
			b.Next(2)
		}
	}})
	b.Next(1)
	b.Next(3)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestBehaviorInitOnlySetsFirstValue(t *testing.T) {
	b := NewBehavior[int]()
	rec := &recorder[int]{}
	b.Subscribe(rec.observer())

	assert.True(t, b.Init(1))
	assert.False(t, b.Init(2))
	b.Next(3)
	assert.False(t, b.Init(4))

	v, ok := b.Value()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, []int{1, 3}, rec.got())
}

func TestBehaviorInitAfterNextIsIgnored(t *testing.T) {
	b := NewBehavior[bool]()
	b.Next(false)
	assert.False(t, b.Init(true))
	v, _ := b.Value()
	assert.False(t, v)
}

func TestNilSubscriptionUnsubscribe(t *testing.T) {
	var s *Subscription
	require.NotPanics(t, s.Unsubscribe)
}
