// Copyright 2025, 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"sync"
)

// Key identifies one segment of a partition.
type Key struct {
	Topic      string
	Partition  int32
	BaseOffset int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Bytes     int
}

// SegmentCache is a byte-bounded LRU of downloaded segment bodies.
type SegmentCache struct {
	mu       sync.Mutex
	capacity int
	size     int
	ll       *list.List
	items    map[Key]*list.Element
	stats    Stats
}

type cacheEntry struct {
	key  Key
	data []byte
}

// NewSegmentCache creates a cache holding at most capacityBytes of segment data.
func NewSegmentCache(capacityBytes int) *SegmentCache {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}
	return &SegmentCache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
	}
}

// Get returns the cached segment body for key. Callers must not modify it.
func (c *SegmentCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.ll.MoveToFront(elem)
	return elem.Value.(*cacheEntry).data, true
}

// Put stores data under key. Segments larger than the whole cache are not kept.
func (c *SegmentCache) Put(key Key, data []byte) {
	if len(data) > c.capacity {
		c.Invalidate(key)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.size += len(data) - len(entry.data)
		entry.data = data
		c.ll.MoveToFront(elem)
		c.evictIfNeeded()
		return
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, data: data})
	c.size += len(data)
	c.evictIfNeeded()
}

// Invalidate drops key from the cache.
func (c *SegmentCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

// Retain drops every cached segment of topic/partition whose base offset is
// not in live. Segments removed by retention disappear this way.
func (c *SegmentCache) Retain(topic string, partition int32, live map[int64]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.items {
		if key.Topic == topic && key.Partition == partition && !live[key.BaseOffset] {
			c.remove(elem)
		}
	}
}

// Stats returns the current counters.
func (c *SegmentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	s.Bytes = c.size
	return s
}

func (c *SegmentCache) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.ll.Remove(elem)
	c.size -= len(entry.data)
}

func (c *SegmentCache) evictIfNeeded() {
	for c.size > c.capacity && c.ll.Len() > 0 {
		c.remove(c.ll.Back())
		c.stats.Evictions++
	}
}
