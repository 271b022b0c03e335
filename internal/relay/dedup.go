package relay

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupCache is a bounded, TTL-expiring map from message fingerprints (and
// already fanned-out message ids) to persisted message ids. When full, the
// least recently written entry is evicted.
type DedupCache struct {
	mu  sync.Mutex // serializes writers so PutIfAbsent is atomic
	lru *expirable.LRU[string, string]
}

// NewDedupCache returns a cache keeping entries for ttl, at most max of them.
func NewDedupCache(ttl time.Duration, max int) *DedupCache {
	if max < 1 {
		max = 1
	}
	return &DedupCache{lru: expirable.NewLRU[string, string](max, nil, ttl)}
}

// Get returns the value stored for key if it has not expired.
func (d *DedupCache) Get(key string) (string, bool) {
	return d.lru.Peek(key)
}

// Put stores key → value for the configured TTL, refreshing an existing key.
func (d *DedupCache) Put(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Add(key, value)
}

// PutIfAbsent stores key → value unless a live entry exists. It returns the
// stored value and whether the key was newly inserted.
func (d *DedupCache) PutIfAbsent(key, value string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.lru.Peek(key); ok {
		return prev, false
	}
	d.lru.Add(key, value)
	return value, true
}

// Remove drops key.
func (d *DedupCache) Remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Remove(key)
}

// Len returns the number of stored entries. Expired entries count until the
// background sweep drops them.
func (d *DedupCache) Len() int { return d.lru.Len() }
