// Package cache provides a small TTL cache used for recall results and
// embeddings. Entries expire on their own; ClearPrefix supports best-effort
// invalidation of a workspace's recall entries on write.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the shared cache contract.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	ClearPrefix(prefix string) int
	Purge()
}

// TTLCache wraps an expirable LRU. Keys are tracked separately so ClearPrefix
// can walk them without touching entry recency.
type TTLCache struct {
	lru *expirable.LRU[string, interface{}]

	mu   sync.Mutex
	keys map[string]struct{}
}

// New creates a TTL cache holding up to size entries, each expiring after ttl.
func New(size int, ttl time.Duration) *TTLCache {
	if size < 1 {
		size = 1024
	}
	c := &TTLCache{keys: make(map[string]struct{})}
	c.lru = expirable.NewLRU[string, interface{}](size, func(key string, _ interface{}) {
		c.mu.Lock()
		delete(c.keys, key)
		c.mu.Unlock()
	}, ttl)
	return c
}

func (c *TTLCache) Get(key string) (interface{}, bool) {
	return c.lru.Get(key)
}

func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	c.lru.Add(key, value)
}

// ClearPrefix removes every entry whose key starts with prefix and returns the
// number removed.
func (c *TTLCache) ClearPrefix(prefix string) int {
	c.mu.Lock()
	var matched []string
	for k := range c.keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	c.mu.Unlock()

	for _, k := range matched {
		c.lru.Remove(k)
	}
	return len(matched)
}

// Purge drops every entry.
func (c *TTLCache) Purge() {
	c.lru.Purge()
	c.mu.Lock()
	c.keys = make(map[string]struct{})
	c.mu.Unlock()
}

var _ Cache = (*TTLCache)(nil)
