package eventbus

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"docvault/internal/model"
)

const (
	// DefaultCacheTTL is how long an idle key keeps its events.
	DefaultCacheTTL = time.Hour
	// DefaultCacheSize bounds the number of keys.
	DefaultCacheSize = 1024

	maxEventsPerKey = 50
)

// Cache keeps the most recent events per "TYPE:subject" key. Keys expire
// after the TTL; every Add refreshes the key.
type Cache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, []model.Event]
}

// NewCache creates a cache holding at most size keys for ttl each.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, []model.Event](size, nil, ttl)}
}

// CacheKey returns the key an event of type t about subject is cached under.
func CacheKey(t model.EventType, subject string) string {
	return string(t) + ":" + subject
}

// Add appends e under its key, keeping the newest events.
func (c *Cache) Add(e model.Event) {
	key := CacheKey(e.Type, e.Subject)

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, _ := c.lru.Get(key)
	next := make([]model.Event, 0, len(prev)+1)
	next = append(next, prev...)
	next = append(next, e)
	if len(next) > maxEventsPerKey {
		next = next[len(next)-maxEventsPerKey:]
	}
	c.lru.Add(key, next)
}

// Recent returns the cached events for the key, oldest first.
func (c *Cache) Recent(t model.EventType, subject string) []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events, ok := c.lru.Get(CacheKey(t, subject))
	if !ok {
		return nil
	}
	out := make([]model.Event, len(events))
	copy(out, events)
	return out
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	return c.lru.Len()
}
