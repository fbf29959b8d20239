// Package cache provides bounded caches whose entries are always keyed by a
// (scope, id) pair, so one scope can never read or evict another's values.
//
// Caches are latency optimizations. Callers must behave correctly on a miss.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leapstack-labs/runboard/internal/scope"
)

// DefaultSize bounds a cache created with a non-positive size.
const DefaultSize = 4096

// Scoped is a bounded, concurrency-safe cache keyed by scope.Key.
type Scoped[V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[scope.Key, V]
}

// New returns a cache holding at most size entries.
func New[V any](size int) *Scoped[V] {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[scope.Key, V](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &Scoped[V]{lru: c}
}

// Get returns the value stored under (scopeID, id).
func (c *Scoped[V]) Get(scopeID, id string) (V, bool) {
	return c.lru.Get(scope.Key{Scope: scopeID, ID: id})
}

// Set stores v under (scopeID, id).
func (c *Scoped[V]) Set(scopeID, id string, v V) {
	c.lru.Add(scope.Key{Scope: scopeID, ID: id}, v)
}

// Invalidate removes one entry.
func (c *Scoped[V]) Invalidate(scopeID, id string) {
	c.lru.Remove(scope.Key{Scope: scopeID, ID: id})
}

// InvalidateScope removes every entry of scopeID and returns how many were removed.
func (c *Scoped[V]) InvalidateScope(scopeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, k := range c.lru.Keys() {
		if k.Scope == scopeID && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// IDs returns the ids cached for scopeID, oldest first.
func (c *Scoped[V]) IDs(scopeID string) []string {
	var ids []string
	for _, k := range c.lru.Keys() {
		if k.Scope == scopeID {
			ids = append(ids, k.ID)
		}
	}
	return ids
}

// Clear removes every entry.
func (c *Scoped[V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of cached entries across all scopes.
func (c *Scoped[V]) Len() int {
	return c.lru.Len()
}
