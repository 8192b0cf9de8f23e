// file: internal/cache/cache.go
// version: 2.1.0
// guid: a1b2c3d4-e5f6-7a8b-9c0d-1e2f3a4b5c6d

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/metrics"
	"github.com/jdfalk/erpcache/internal/storage"
	"go.uber.org/zap"
)

// Entry is the durable record written for every cached value.
type Entry struct {
	Key      string          `json:"-"`
	Value    json.RawMessage `json:"value"`
	StoredAt int64           `json:"storedAt"` // unix milliseconds
}

// ErrMalformedEntry marks a stored record that is not a cache entry.
var ErrMalformedEntry = errors.New("malformed cache entry")

// DecodeEntry parses a stored record. Records without a value or timestamp
// are malformed.
func DecodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if len(e.Value) == 0 || e.StoredAt <= 0 {
		return Entry{}, ErrMalformedEntry
	}
	return e, nil
}

// Age returns how old the entry is relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.StoredAt) * time.Millisecond
}

// Cache is a TTL key/value cache on top of a Storage backend. The cache is
// best-effort: storage and decode failures degrade to misses and are never
// returned to the caller.
type Cache struct {
	mu     sync.Mutex
	store  storage.Storage
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = logging.OrNop(l) }
}

// New creates a cache backed by store.
func New(store storage.Storage, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key if it is younger than ttl. Expired
// and malformed records are removed and reported as absent.
func (c *Cache) Get(key string, ttl time.Duration) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.read(key)
	if !ok {
		return nil, false
	}
	if c.now().UnixMilli()-e.StoredAt > ttl.Milliseconds() {
		metrics.IncCacheExpired()
		c.remove(key)
		return nil, false
	}
	return e.Value, true
}

// Peek returns the raw entry without checking its age.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(key)
}

// Set stores value under key stamped with the current time, replacing any
// previous entry.
func (c *Cache) Set(key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable, skipping", zap.String("key", key), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(Entry{Value: raw, StoredAt: c.now().UnixMilli()})
	if err != nil {
		c.logger.Warn("cache entry not serializable, skipping", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetItem(key, data); err != nil {
		metrics.IncStorageWriteFailure()
		c.logger.Warn("cache write dropped", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key. It is a no-op when key is absent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

// DeleteAll removes every key not listed in except and returns how many
// keys were removed.
func (c *Cache) DeleteAll(except ...string) int {
	keep := make(map[string]struct{}, len(except))
	for _, k := range except {
		keep[k] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.keys() {
		if _, ok := keep[k]; ok {
			continue
		}
		if c.remove(k) {
			removed++
		}
	}
	return removed
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.keys() {
		if strings.HasPrefix(k, prefix) {
			if c.remove(k) {
				removed++
			}
		}
	}
	return removed
}

// Keys lists every stored key. Storage failures yield an empty list.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys()
}

func (c *Cache) keys() []string {
	keys, err := c.store.Keys()
	if err != nil {
		c.logger.Warn("cache key enumeration failed", zap.Error(err))
		return nil
	}
	return keys
}

// read must be called with c.mu held.
func (c *Cache) read(key string) (Entry, bool) {
	raw, ok, err := c.store.GetItem(key)
	if err != nil {
		c.logger.Debug("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	e, err := DecodeEntry(raw)
	if err != nil {
		metrics.IncCacheCorrupt()
		c.logger.Warn("purging malformed cache record", zap.String("key", key))
		c.remove(key)
		return Entry{}, false
	}
	e.Key = key
	return e, true
}

// remove must be called with c.mu held.
func (c *Cache) remove(key string) bool {
	if err := c.store.RemoveItem(key); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// GetAs decodes the value stored under key into T. A value that does not
// decode is purged and reported as absent.
func GetAs[T any](c *Cache, key string, ttl time.Duration) (T, bool) {
	var out T
	raw, ok := c.Get(key, ttl)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		metrics.IncCacheCorrupt()
		c.logger.Warn("purging cache value of unexpected shape", zap.String("key", key), zap.Error(err))
		c.Delete(key)
		var zero T
		return zero, false
	}
	return out, true
}
