package memory

import (
	"context"
	"sync"
	"time"
)

type item struct {
	val string
	exp time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.exp.IsZero() && now.After(i.exp)
}

// Client — storage.KV в памяти процесса.
type Client struct {
	mu    sync.RWMutex
	items map[string]item
}

func New() *Client {
	return &Client{items: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || v.expired(time.Now()) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item{val: value}
	if ttl > 0 {
		it.exp = time.Now().Add(ttl)
	}
	c.items[key] = it
	c.sweepLocked()
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// sweepLocked удаляет истёкшие записи, когда карта перерастает порог.
func (c *Client) sweepLocked() {
	if len(c.items) < 1024 {
		return
	}
	now := time.Now()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		}
	}
}
