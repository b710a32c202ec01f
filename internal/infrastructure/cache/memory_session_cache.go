package cache

import (
	"context"
	"sync"
	"time"

	domain "github.com/care/erpsync/internal/domain/sync"
)

// entry is a cached session with its expiration
type entry struct {
	session   *domain.Session
	expiresAt time.Time
}

// MemorySessionCache implements the session cache with an in-process map.
// Suitable for single-instance deployments and testing.
type MemorySessionCache struct {
	mu        sync.RWMutex
	entries   map[string]entry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemorySessionCache creates an in-memory session cache and starts a
// background goroutine that evicts expired entries.
func NewMemorySessionCache() *MemorySessionCache {
	c := &MemorySessionCache{
		entries:  make(map[string]entry),
		stopChan: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	return c
}

// Get returns the cached session for a connection key, if still live.
func (c *MemorySessionCache) Get(ctx context.Context, key string) (*domain.Session, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.session, true, nil
}

// Set stores a session under a connection key for the given TTL.
func (c *MemorySessionCache) Set(ctx context.Context, key string, session *domain.Session, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		session:   session,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Invalidate drops the cached session for a connection key.
func (c *MemorySessionCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *MemorySessionCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// cleanupLoop periodically removes expired entries
func (c *MemorySessionCache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemorySessionCache) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
