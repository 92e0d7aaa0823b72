// Package storage описывает key/value хранилище для токенов доступа,
// пуш-подписок и клиентской сессии. Реализации: redis.Client, memory.Client
// (без Redis) и file.Client (один процесс, переживает перезапуск).
package storage

import (
	"context"
	"time"
)

// KV — строковое key/value хранилище. Get возвращает "" для отсутствующего
// или истёкшего ключа. Нулевой ttl — без срока жизни.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
