// Package cache holds the TTL result cache shared by dispatcher workers.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultTTL        = 600 * time.Second
	DefaultMaxEntries = 1000
)

// Entry is a cached value and the time it was stored
type Entry[V any] struct {
	Signature  string
	Value      V
	InsertedAt time.Time
}

// Stats counts cache activity since construction or the last Clear
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Expirations uint64 `json:"expirations"`
	Evictions   uint64 `json:"evictions"`
	Size        int    `json:"size"`
}

// Option configures a ResultCache
type Option func(*options)

type options struct {
	maxEntries int
	now        func() time.Time
}

// WithMaxEntries bounds the number of live entries; the least recently used
// entry is dropped when a new key would exceed it.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// ResultCache maps signatures to values with a fixed TTL. Expiry is checked
// lazily on Get; there is no background sweeper. One mutex guards the
// underlying list for every read and write.
//
// Map and slice values are deep-copied on Set and on Get, so neither the
// writer nor any reader can mutate a stored entry through a shared
// reference.
type ResultCache[V any] struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, Entry[V]]
	ttl   time.Duration
	now   func() time.Time
	stats Stats
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option) (*ResultCache[V], error) {
	o := options{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}

	c := &ResultCache[V]{ttl: ttl, now: o.now}
	l, err := simplelru.NewLRU[string, Entry[V]](o.maxEntries, func(string, Entry[V]) {
		// called with c.mu held
		c.stats.Evictions++
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get returns the value for key, or false if absent or older than the TTL.
// An expired entry is removed.
func (c *ResultCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.lru.Peek(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if c.now().Sub(entry.InsertedAt) > c.ttl {
		// Remove would count as an eviction
		c.lru.Remove(key)
		c.stats.Evictions--
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}
	c.lru.Get(key)
	c.stats.Hits++
	return deepCopy(entry.Value), true
}

// Set stores value under key with the current time, replacing any existing entry.
func (c *ResultCache[V]) Set(key string, value V) {
	value = deepCopy(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, Entry[V]{Signature: key, Value: value, InsertedAt: c.now()})
}

// Len returns the number of stored entries, expired or not.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry and resets the counters.
func (c *ResultCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.stats = Stats{}
}

// Stats returns a snapshot of the counters.
func (c *ResultCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.lru.Len()
	return s
}

// TTL returns the configured time-to-live.
func (c *ResultCache[V]) TTL() time.Duration {
	return c.ttl
}

// Signature builds the cache key for a capability call:
// name + ":" + JSON of the argument pairs sorted by key. Nested maps are
// serialized with sorted keys as well, so argument order never matters.
func Signature(name string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]interface{}, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]interface{}{k, args[k]})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		// fmt prints maps in key order
		return fmt.Sprintf("%s:%v", name, pairs)
	}
	return name + ":" + string(data)
}
