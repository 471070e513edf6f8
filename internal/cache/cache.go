// Package cache memoizes read-side computations keyed by (operation, params).
// Sync operations call InvalidateAll after committing merges, so reads after
// a sync always reflect the new store state.
package cache

import (
    "sync"
    "time"

    "github.com/rs/zerolog"
)

type entry struct {
    value any
    at    time.Time
}

type Cache struct {
    mu      sync.RWMutex
    ttl     time.Duration // zero means entries live until invalidation
    entries map[string]entry
    log     zerolog.Logger
}

func New(ttl time.Duration, log zerolog.Logger) *Cache {
    return &Cache{ttl: ttl, entries: map[string]entry{}, log: log}
}

// Do returns the cached value for key, computing and storing it on a miss.
// Errors are never cached.
func Do[T any](c *Cache, key string, fn func() (T, error)) (T, error) {
    c.mu.RLock()
    e, ok := c.entries[key]
    c.mu.RUnlock()
    if ok && (c.ttl == 0 || time.Since(e.at) < c.ttl) {
        if v, valid := e.value.(T); valid {
            return v, nil
        }
    }
    v, err := fn()
    if err != nil {
        return v, err
    }
    c.mu.Lock()
    c.entries[key] = entry{value: v, at: time.Now()}
    c.mu.Unlock()
    return v, nil
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
    c.mu.Lock()
    n := len(c.entries)
    c.entries = map[string]entry{}
    c.mu.Unlock()
    if n > 0 {
        c.log.Debug().Int("dropped", n).Msg("cache: invalidated")
    }
}

// Len reports the current entry count, used by tests and the status endpoint.
func (c *Cache) Len() int {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return len(c.entries)
}
