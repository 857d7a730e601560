package storage

import (
	"context"
)

// EventLimiter ограничивает частоту входящих WS-событий на ключ (обычно user id).
// Реализации: redis.Client (общий счётчик для нескольких API), memory.Client (для -dev без Redis).
type EventLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}
