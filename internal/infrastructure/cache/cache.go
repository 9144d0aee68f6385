// internal/infrastructure/cache/cache.go
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss возвращается когда ключ отсутствует или истек
var ErrMiss = errors.New("cache: miss")

// Cache - общий интерфейс кэша (Redis или in-memory)
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}
