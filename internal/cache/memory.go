// Package cache memoizes resolved links so repeat requests skip the upstream
// call. Two backends: a process-local TTL map and Redis for shared setups.
package cache

import (
	"context"
	"sync"
	"time"

	"parsebot/internal/domain"
)

type memoryEntry struct {
	result   domain.ParseResult
	storedAt time.Time
}

// Memory is a mutex-protected in-memory cache with TTL expiry and a capacity
// cap. At capacity the oldest entry is evicted. A janitor goroutine sweeps
// expired entries in the background.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	ttl        time.Duration
	maxEntries int
	janitor    *time.Ticker
	stop       chan struct{}
	closeOnce  sync.Once
}

func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := &Memory{
		entries:    make(map[string]memoryEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}

	c.janitor = time.NewTicker(time.Minute)
	go c.sweep()

	return c
}

func (c *Memory) Get(ctx context.Context, url string) (*domain.ParseResult, error) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok || time.Since(entry.storedAt) > c.ttl {
		return nil, domain.ErrCacheMiss
	}

	// Copy so callers cannot mutate the cached value.
	result := entry.result
	result.MediaURLs = append([]string(nil), entry.result.MediaURLs...)
	return &result, nil
}

func (c *Memory) Set(ctx context.Context, url string, result *domain.ParseResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[url]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	stored := *result
	stored.MediaURLs = append([]string(nil), result.MediaURLs...)
	c.entries[url] = memoryEntry{result: stored, storedAt: time.Now()}
	return nil
}

func (c *Memory) Delete(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	return nil
}

// Len returns the current number of entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Memory) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Memory) sweep() {
	for {
		select {
		case <-c.janitor.C:
			c.mu.Lock()
			cutoff := time.Now().Add(-c.ttl)
			for key, entry := range c.entries {
				if entry.storedAt.Before(cutoff) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory) Close() error {
	c.closeOnce.Do(func() {
		c.janitor.Stop()
		close(c.stop)
	})
	return nil
}
