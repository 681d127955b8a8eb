// Package cache implements a bounded priority cache fronting the origin
// content servers.
package cache

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"edgecache/pkg/logger"
)

// Reason is why a path is being fetched; it determines the stored entry's
// eviction priority.
type Reason int

const (
	// ReasonFetch is a client-driven access.
	ReasonFetch Reason = iota
	// ReasonPrefetch is a speculative, background access.
	ReasonPrefetch
)

// ErrTooLarge is returned when a single item exceeds the cache's capacity.
var ErrTooLarge = errors.New("item exceeds cache capacity")

// OriginFetcher fetches the bytes and headers for a path from the correct
// origin server.
type OriginFetcher interface {
	Fetch(path string) ([]byte, http.Header, error)
}

// entry is a cached item's bookkeeping record.
type entry struct {
	path      string
	sizeBytes int64
	headers   map[string]string
	priority  int // lower is more important
	timestamp time.Time
}

// Cache is the bounded priority cache. A single mutex guards the entry map
// and the disk I/O of inserts, so origin fetch and disk write happen inside
// the same critical section and at most one fetch per path is ever in
// flight.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	used     int64
	capacity int64

	fs   afero.Fs
	root string

	origin OriginFetcher

	fetchPriority    int
	prefetchPriority int
}

// New builds a Cache storing files under root on fs, bounded to capacity
// bytes, fetching misses through origin.
func New(fs afero.Fs, root string, capacity int64, origin OriginFetcher, fetchPriority, prefetchPriority int) *Cache {
	return &Cache{
		entries:          make(map[string]*entry),
		capacity:         capacity,
		fs:               fs,
		root:             root,
		origin:           origin,
		fetchPriority:    fetchPriority,
		prefetchPriority: prefetchPriority,
	}
}

func (c *Cache) priorityFor(reason Reason) int {
	if reason == ReasonFetch {
		return c.fetchPriority
	}
	return c.prefetchPriority
}

func (c *Cache) localPath(p string) string {
	return path.Join(c.root, p)
}

// GetFile faults a path into the cache: on a hit, it touches the entry
// (and promotes a PREFETCH entry to FETCH priority); on a miss, it fetches
// through origin, writes the bytes to disk, and inserts an entry, evicting
// as needed.
func (c *Cache) GetFile(p string, reason Reason) (localPath string, headers map[string]string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[p]; ok {
		e.timestamp = time.Now()
		if reason == ReasonFetch && e.priority == c.prefetchPriority {
			e.priority = c.fetchPriority // priority monotonicity: FETCH never lowers priority
		}
		return c.localPath(p), copyHeaders(e.headers), nil
	}

	data, respHeaders, ferr := c.origin.Fetch(p)
	if ferr != nil {
		return "", nil, ferr
	}

	size := int64(len(data))
	if size > c.capacity {
		return "", nil, fmt.Errorf("%w: %s (%d bytes, capacity %d)", ErrTooLarge, p, size, c.capacity)
	}

	c.evictFor(size)

	lp := c.localPath(p)
	if err := c.writeFile(lp, data); err != nil {
		return "", nil, fmt.Errorf("write cache file %s: %w", lp, err)
	}

	headersCopy := headersToMap(respHeaders)
	c.entries[p] = &entry{
		path:      p,
		sizeBytes: size,
		headers:   headersCopy,
		priority:  c.priorityFor(reason),
		timestamp: time.Now(),
	}
	c.used += size

	return lp, copyHeaders(headersCopy), nil
}

// writeFile writes data to lp, deleting any partial write on failure
// before returning.
func (c *Cache) writeFile(lp string, data []byte) error {
	if dir := path.Dir(lp); dir != "" {
		if err := c.fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := afero.WriteFile(c.fs, lp, data, 0644); err != nil {
		c.fs.Remove(lp)
		return err
	}
	return nil
}

// evictFor removes entries, lowest-value first, until adding size more
// bytes would fit within capacity. Eviction order is (priority descending,
// timestamp ascending).
func (c *Cache) evictFor(size int64) {
	if c.used+size <= c.capacity {
		return
	}

	candidates := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].timestamp.Before(candidates[j].timestamp)
	})

	for _, e := range candidates {
		if c.used+size <= c.capacity {
			break
		}
		delete(c.entries, e.path)
		c.used -= e.sizeBytes
		if err := c.fs.Remove(c.localPath(e.path)); err != nil {
			logger.Warn("cache: failed to remove evicted file", "path", e.path, "err", err)
		}
		logger.Info("cache: evicted entry", "path", e.path, "priority", e.priority, "size", e.sizeBytes)
	}
}

// Contains reports whether path is currently cached.
func (c *Cache) Contains(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[p]
	return ok
}

// Stat returns the size in bytes of a cached entry.
func (c *Cache) Stat(p string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[p]
	if !ok {
		return 0, false
	}
	return e.sizeBytes, true
}

// Open opens a cached file for reading.
func (c *Cache) Open(localPath string) (afero.File, error) {
	return c.fs.Open(localPath)
}

// UsedBytes returns the current total size of all cached entries, for
// enforcing/observing the capacity invariant in tests.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func headersToMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
