// Package lrucache implements a fixed capacity key value cache that never
// allocates after construction. Once full, inserting a new key evicts the
// key inserted longest ago.
package lrucache

import "slices"

type node[K, V comparable] struct {
	k K
	v V
}

type Cache[K, V comparable] struct {
	nodes []node[K, V]
	index int // last written slot
}

func New[K, V comparable](maxSize int) Cache[K, V] {
	if maxSize <= 0 {
		panic("lrucache max size must be > 0")
	}
	return Cache[K, V]{
		nodes: make([]node[K, V], 0, maxSize),
	}
}

// Len returns the amount of cached keys.
func (c *Cache[K, V]) Len() int { return len(c.nodes) }

func (c *Cache[K, V]) Get(k K) (v V, ok bool) {
	if i := c.find(k); i >= 0 {
		return c.nodes[i].v, true
	}
	return v, false
}

// Put stores v under k. An existing key is overwritten in place and keeps
// its eviction order.
func (c *Cache[K, V]) Put(k K, v V) {
	if i := c.find(k); i >= 0 {
		c.nodes[i].v = v
		return
	}
	if len(c.nodes) < cap(c.nodes) {
		c.nodes = append(c.nodes, node[K, V]{k, v})
		c.index = len(c.nodes) - 1
		return
	}
	c.index++
	if c.index == len(c.nodes) {
		c.index = 0
	}
	c.nodes[c.index] = node[K, V]{k, v}
}

// Remove deletes k from the cache.
func (c *Cache[K, V]) Remove(k K) {
	if c.find(k) < 0 {
		return
	}
	c.linearize()
	i := c.find(k)
	last := len(c.nodes) - 1
	copy(c.nodes[i:], c.nodes[i+1:])
	c.nodes[last] = node[K, V]{}
	c.nodes = c.nodes[:last]
	c.index = max(last-1, 0)
}

// Reset empties the cache.
func (c *Cache[K, V]) Reset() {
	clear(c.nodes)
	c.nodes = c.nodes[:0]
	c.index = 0
}

// find searches from the newest entry backwards.
func (c *Cache[K, V]) find(k K) int {
	i := c.index
	for range len(c.nodes) {
		if c.nodes[i].k == k {
			return i
		}
		if i == 0 {
			i = len(c.nodes)
		}
		i--
	}
	return -1
}

// linearize reorders the ring so the oldest entry is first.
func (c *Cache[K, V]) linearize() {
	n := len(c.nodes)
	if n == 0 {
		return
	}
	if mid := (c.index + 1) % n; mid != 0 {
		slices.Reverse(c.nodes[:mid])
		slices.Reverse(c.nodes[mid:])
		slices.Reverse(c.nodes)
	}
	c.index = n - 1
}
