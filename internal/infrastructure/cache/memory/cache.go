// internal/infrastructure/cache/memory/cache.go
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"thb-mmk-exchange-bot/internal/infrastructure/cache"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache - in-memory кэш с TTL. Замена Redis когда он выключен.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
	}
}

// Set устанавливает значение с TTL. ttl <= 0 означает без истечения.
func (c *Cache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

// Get получает значение. Истекшие записи считаются промахом.
func (c *Cache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return cache.ErrMiss
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return cache.ErrMiss
	}

	return json.Unmarshal(e.data, dest)
}

// Delete удаляет ключ
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Sweep удаляет истекшие записи, возвращает количество удаленных
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len возвращает количество записей
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
