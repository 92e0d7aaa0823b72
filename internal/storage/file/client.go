// Package file — storage.KV, сохраняемый на диск одним JSON-объектом.
// Рассчитан на один процесс (команда watch), межпроцессной блокировки нет.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type entry struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

type Client struct {
	mu    sync.Mutex
	path  string
	items map[string]entry
}

// Open загружает path, если файл есть; отсутствующий файл — пустое хранилище.
func Open(path string) (*Client, error) {
	c := &Client{path: path, items: make(map[string]entry)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.items); err != nil {
			return nil, fmt.Errorf("file store parse %s: %w", path, err)
		}
	}
	return c, nil
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || (!e.Expires.IsZero() && time.Now().After(e.Expires)) {
		return "", nil
	}
	return e.Value, nil
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{Value: value}
	if ttl > 0 {
		e.Expires = time.Now().Add(ttl)
	}
	c.items[key] = e
	return c.flushLocked()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return nil
	}
	delete(c.items, key)
	return c.flushLocked()
}

// flushLocked пишет во временный файл и переименовывает его поверх целевого.
func (c *Client) flushLocked() error {
	data, err := json.MarshalIndent(c.items, "", "  ")
	if err != nil {
		return fmt.Errorf("file store encode: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("file store mkdir: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file store write: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("file store rename: %w", err)
	}
	return nil
}
