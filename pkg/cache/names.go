// Package cache provides a read-through cache for source system names. Names
// change rarely but are stamped onto every published record event, so every
// batch would otherwise hammer the source_system table.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
)

// NameRepository loads source system names from storage
type NameRepository interface {
	GetName(ctx context.Context, id string) (string, error)
}

// NameCacheConfig configures the name cache
type NameCacheConfig struct {
	TTL           time.Duration
	ClearInterval time.Duration
}

// DefaultNameCacheConfig returns sensible defaults
func DefaultNameCacheConfig() NameCacheConfig {
	return NameCacheConfig{
		TTL:           10 * time.Minute,
		ClearInterval: 12 * time.Hour,
	}
}

type nameEntry struct {
	name      string
	expiresAt time.Time
}

// NameCache caches source system names with a TTL and a periodic full clear.
type NameCache struct {
	cache  map[string]*nameEntry
	mu     sync.RWMutex
	repo   NameRepository
	ttl    time.Duration
	stop   chan struct{}
	once   sync.Once
	logger ectologger.Logger
}

// NewNameCache creates a new name cache and starts the periodic clear.
func NewNameCache(repo NameRepository, cfg NameCacheConfig, logger ectologger.Logger) *NameCache {
	c := &NameCache{
		cache:  make(map[string]*nameEntry),
		repo:   repo,
		ttl:    cfg.TTL,
		stop:   make(chan struct{}),
		logger: logger,
	}
	if cfg.ClearInterval > 0 {
		go c.clearLoop(cfg.ClearInterval)
	}
	return c
}

// GetName returns the display name of a source system, loading it through the
// repository on miss or expiry. A lookup failure is returned to the caller;
// failures are never cached.
func (c *NameCache) GetName(ctx context.Context, id string) (string, error) {
	c.mu.RLock()
	entry, exists := c.cache[id]
	c.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.name, nil
	}

	name, err := c.repo.GetName(ctx, id)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[id] = &nameEntry{name: name, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return name, nil
}

// Clear removes all entries from the cache.
func (c *NameCache) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]*nameEntry)
	c.mu.Unlock()
}

// Close stops the periodic clear.
func (c *NameCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *NameCache) clearLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Clear()
			c.logger.Debug("Cleared source system name cache")
		case <-c.stop:
			return
		}
	}
}
