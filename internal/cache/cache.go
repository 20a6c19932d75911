// Package cache provides the bounded, expiring caches used for schemas and
// templates.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded key-value cache safe for concurrent use.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Add(key K, value V)
	Remove(key K)
	Len() int
	Purge()
}

// LRU evicts the least recently used entry once Size entries are held and
// drops entries older than the TTL.
type LRU[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewLRU creates an LRU holding at most size entries. A zero ttl disables
// expiry; size <= 0 means unbounded.
func NewLRU[K comparable, V any](size int, ttl time.Duration) *LRU[K, V] {
	if size < 0 {
		size = 0
	}
	return &LRU[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *LRU[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }

func (c *LRU[K, V]) Add(key K, value V) { c.lru.Add(key, value) }

func (c *LRU[K, V]) Remove(key K) { c.lru.Remove(key) }

func (c *LRU[K, V]) Len() int { return c.lru.Len() }

func (c *LRU[K, V]) Purge() { c.lru.Purge() }
