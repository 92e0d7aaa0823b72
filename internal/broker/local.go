package broker

import (
	"context"
	"sync"

	"github.com/jobchat/internal/model"
)

// Local delivers events within the process. Used for single-instance
// deployments and tests.
type Local struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

func (b *Local) Publish(ctx context.Context, ev model.ChatEvent) error {
	if _, err := encode(ev); err != nil {
		return err
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
	return nil
}

func (b *Local) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *Local) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]Handler)
	b.mu.Unlock()
	return nil
}
