package loader

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes file contents by CacheKey. Concurrent loads of the same
// key share one fetch.
type Cache struct {
	entries map[string][]byte
	mu      sync.RWMutex
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]byte)}
}

func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[key]
	return b, ok
}

// Load returns the cached contents for file or calls fetch once to fill
// them. Failed fetches are not cached.
func (c *Cache) Load(file GraphFile, fetch func() ([]byte, error)) ([]byte, error) {
	key := CacheKey(file)
	if b, ok := c.get(key); ok {
		return b, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if b, ok := c.get(key); ok {
			return b, nil
		}
		b, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = b
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
