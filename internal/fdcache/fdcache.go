// Package fdcache implements a bounded LRU pool of open append file handles,
// so that posting-shard writes during a scan don't pay an open() syscall per
// keyword. It is a scoped resource owned by whichever component drives a
// scan or optimize pass (see internal/scanner, internal/shardstore) rather
// than a process-wide singleton; callers create one, use it for the
// operation, and Close it when done.
package fdcache

import (
	"container/list"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
)

// DefaultCapacity is the default number of cached append handles, also the
// default of the fd_cache_size config knob.
const DefaultCapacity = 500

// evictFraction is how much of the cache to evict when an append open fails
// with a resource-exhaustion error, before retrying once.
const evictFraction = 0.30

type entry struct {
	path string
	f    *os.File
}

// Cache is a bounded LRU pool of open append handles, keyed by path.
// It is not safe for concurrent use from multiple goroutines without
// external synchronization, consistent with the single-writer model the
// rest of the index assumes.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// New creates an append-handle cache with the given capacity. A capacity
// <= 0 uses DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// OpenAppend returns a writable append handle for path, creating the file
// if necessary. Handles are cached and reused across calls; the caller must
// not close the returned *os.File directly (use Evict, Flush, or Close).
func (c *Cache) OpenAppend(path string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[path]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry).f, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil && isResourceExhausted(err) {
		c.evictLocked(evictCount(c.order.Len(), evictFraction))
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("fdcache: open %s for append: %w", path, err)
	}

	el := c.order.PushFront(&entry{path: path, f: f})
	c.entries[path] = el

	if c.order.Len() > c.capacity {
		c.evictLocked(c.order.Len() - c.capacity)
	}

	return f, nil
}

// OpenFresh opens path with the given flag/perm, bypassing the cache. If an
// append handle for path is currently cached, it is closed and evicted
// first, so truncating writers never race a stale append fd.
func (c *Cache) OpenFresh(path string, flag int, perm os.FileMode) (*os.File, error) {
	c.mu.Lock()
	if el, ok := c.entries[path]; ok {
		c.closeAndRemoveLocked(el)
	}
	c.mu.Unlock()

	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("fdcache: open %s: %w", path, err)
	}
	return f, nil
}

// Evict closes and drops the cached append handle for path, if any. It is a
// no-op if path is not cached.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[path]; ok {
		c.closeAndRemoveLocked(el)
	}
}

// Flush closes the n least-recently-used cached handles. Passing a count
// larger than the number of cached entries flushes everything.
func (c *Cache) Flush(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(n)
}

// FlushRatio closes the least-recently-used fraction (0, 1] of cached
// handles, rounding the count up.
func (c *Cache) FlushRatio(ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(evictCount(c.order.Len(), ratio))
}

// Len returns the number of currently cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close flushes (closes) every cached handle. The cache remains usable
// afterward.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(c.order.Len())
}

// evictLocked closes and drops the n least-recently-used entries. Must be
// called with c.mu held.
func (c *Cache) evictLocked(n int) {
	for i := 0; i < n; i++ {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.closeAndRemoveLocked(back)
	}
}

func (c *Cache) closeAndRemoveLocked(el *list.Element) {
	e := el.Value.(*entry)
	_ = e.f.Close()
	delete(c.entries, e.path)
	c.order.Remove(el)
}

func evictCount(total int, ratio float64) int {
	if total <= 0 {
		return 0
	}
	if ratio <= 0 {
		return 0
	}
	if ratio > 1 {
		ratio = 1
	}
	n := int(math.Ceil(float64(total) * ratio))
	if n < 1 {
		n = 1
	}
	return n
}

// isResourceExhausted reports whether err looks like an EMFILE/ENFILE style
// "too many open files" failure. We match on error text in addition to the
// common syscall sentinels since the exact wrapped error varies by platform.
func isResourceExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many open files") || strings.Contains(msg, "emfile") || strings.Contains(msg, "enfile")
}
