// Package attrcache implements the attribute cache and name cache
// (component D): a TTL-bounded map from file handle to a subset-masked
// Attrs snapshot, and a parallel map from (directory handle, name) to a
// child handle, both invalidated write-through on any mutating op (spec.md
// §4.D). Grounded on the map + single mutex + background cleanup-goroutine
// shape of the teacher's internal/cache.LRUCache; unlike the open-handle
// cache this one is read-dominated so a single RWMutex, not per-shard
// locks, is the right tradeoff.
package attrcache

import (
	"strings"
	"sync"
	"time"

	"github.com/chimera-nas/vfscore/pkg/vfsattr"
)

// DefaultTTL matches the config default cache_ttl.
const DefaultTTL = 60 * time.Second

// DefaultCleanupInterval is how often the background sweep removes
// expired entries, mirroring the teacher's cleanupExpired cadence.
const DefaultCleanupInterval = 15 * time.Second

type attrEntry struct {
	attrs     vfsattr.Attrs
	expiresAt time.Time
}

// AttrCache caches the cacheable subset of an Attrs bundle keyed by file
// handle.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[string]attrEntry
	ttl     time.Duration
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewAttrCache creates an AttrCache with the given TTL and starts its
// background expiry sweep.
func NewAttrCache(ttl time.Duration) *AttrCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &AttrCache{
		entries: make(map[string]attrEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Close stops the background sweep.
func (c *AttrCache) Close() {
	close(c.stopCh)
	<-c.doneCh
}

// Get returns the cached attributes for fh if present, unexpired, and
// covering every bit in want. Only vfsattr.MaskCacheable fields are ever
// served from here — fs statistics and the FH-itself bit must always come
// from the backend, per the cache's one invariant.
func (c *AttrCache) Get(fh vfsattr.FH, want vfsattr.AttrMask) (vfsattr.Attrs, bool) {
	key := string(fh)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return vfsattr.Attrs{}, false
	}
	if !want.Subset(e.attrs.SetMask.Intersect(vfsattr.MaskCacheable)) {
		return vfsattr.Attrs{}, false
	}
	return e.attrs.Clone(), true
}

// Put caches the MaskCacheable subset of attrs under fh.
func (c *AttrCache) Put(fh vfsattr.FH, attrs vfsattr.Attrs) {
	cacheable := attrs.Clone()
	cacheable.SetMask &= vfsattr.MaskCacheable

	c.mu.Lock()
	c.entries[string(fh)] = attrEntry{attrs: cacheable, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops fh's cached entry. Every op that mutates an object's
// attributes (setattr, write, rename, remove's parent) must call this
// before returning so a subsequent getattr never serves a stale snapshot
// (spec.md §8 property: attribute-cache freshness/invalidation).
func (c *AttrCache) Invalidate(fh vfsattr.FH) {
	c.mu.Lock()
	delete(c.entries, string(fh))
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *AttrCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *AttrCache) cleanupLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *AttrCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// nameKey identifies a (directory, name) pair in the name cache. Built
// from the directory FH's bytes and the name joined by a NUL separator,
// which cannot occur in either a file handle or a path component.
func nameKey(dirFH vfsattr.FH, name string) string {
	var b strings.Builder
	b.Write(dirFH)
	b.WriteByte(0)
	b.WriteString(name)
	return b.String()
}

type nameEntry struct {
	childFH   vfsattr.FH
	expiresAt time.Time
}

// NameCache caches directory-entry lookups: (directory handle, name) ->
// child handle, so a path resolver walking a hot directory tree does not
// re-dispatch op_lookup for every component.
type NameCache struct {
	mu      sync.RWMutex
	entries map[string]nameEntry
	byDir   map[string]map[string]struct{} // dir key -> set of nameKeys, for directory-wide invalidation
	ttl     time.Duration
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewNameCache creates a NameCache with the given TTL and starts its
// background expiry sweep.
func NewNameCache(ttl time.Duration) *NameCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &NameCache{
		entries: make(map[string]nameEntry),
		byDir:   make(map[string]map[string]struct{}),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Close stops the background sweep.
func (c *NameCache) Close() {
	close(c.stopCh)
	<-c.doneCh
}

// Lookup returns the cached child handle for (dirFH, name) if present and
// unexpired.
func (c *NameCache) Lookup(dirFH vfsattr.FH, name string) (vfsattr.FH, bool) {
	key := nameKey(dirFH, name)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.childFH.Clone(), true
}

// Insert caches (dirFH, name) -> childFH.
func (c *NameCache) Insert(dirFH vfsattr.FH, name string, childFH vfsattr.FH) {
	key := nameKey(dirFH, name)
	dirKey := string(dirFH)

	c.mu.Lock()
	c.entries[key] = nameEntry{childFH: childFH.Clone(), expiresAt: time.Now().Add(c.ttl)}
	if c.byDir[dirKey] == nil {
		c.byDir[dirKey] = make(map[string]struct{})
	}
	c.byDir[dirKey][key] = struct{}{}
	c.mu.Unlock()
}

// Invalidate drops a single (dirFH, name) entry, used after a targeted
// rename or remove.
func (c *NameCache) Invalidate(dirFH vfsattr.FH, name string) {
	key := nameKey(dirFH, name)
	dirKey := string(dirFH)

	c.mu.Lock()
	delete(c.entries, key)
	if set := c.byDir[dirKey]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(c.byDir, dirKey)
		}
	}
	c.mu.Unlock()
}

// InvalidateDir drops every cached entry under dirFH, used after a
// directory-wide mutation (e.g. the directory itself is renamed or
// removed) where per-entry invalidation would miss entries.
func (c *NameCache) InvalidateDir(dirFH vfsattr.FH) {
	dirKey := string(dirFH)

	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.byDir[dirKey]
	if !ok {
		return
	}
	for key := range set {
		delete(c.entries, key)
	}
	delete(c.byDir, dirKey)
}

// Len reports the number of cached entries.
func (c *NameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *NameCache) cleanupLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *NameCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	// byDir sets referencing now-missing entries are pruned lazily on
	// the next Invalidate/InvalidateDir call rather than swept here; a
	// stray key left in byDir only costs a harmless no-op delete later.
}
