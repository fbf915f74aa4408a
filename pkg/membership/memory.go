package membership

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultMemorySize bounds the number of users held in memory
	DefaultMemorySize = 10000

	memoryBackend = "memory"
)

// MemoryCache keeps records in a bounded LRU. Entries are also dropped by the
// LRU after ttl so that users who never return do not linger; freshness is
// still decided by Record.ExpiresAt.
type MemoryCache struct {
	cache *lru.LRU[string, Record]
}

// NewMemoryCache creates a memory cache holding up to size users
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, Record](size, nil, ttl),
	}
}

// Get returns a copy of the record for username
func (c *MemoryCache) Get(ctx context.Context, username string) (*Record, error) {
	record, ok := c.cache.Get(username)
	if !ok {
		return nil, ErrCacheMiss
	}
	record.Organizations = append([]string(nil), record.Organizations...)
	return &record, nil
}

// Put stores a copy of record, replacing any previous one for the user
func (c *MemoryCache) Put(ctx context.Context, record *Record) error {
	if err := validate(record); err != nil {
		return err
	}
	stored := *record
	stored.Organizations = append([]string(nil), record.Organizations...)
	c.cache.Add(record.Username, stored)
	return nil
}

// Evict removes the record for username
func (c *MemoryCache) Evict(ctx context.Context, username string) error {
	c.cache.Remove(username)
	return nil
}

// Len returns the number of cached users
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

func (c *MemoryCache) Name() string { return memoryBackend }
