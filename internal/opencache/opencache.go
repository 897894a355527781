// Package opencache implements the open-handle cache (component C):
// deduplicating concurrent opens of the same file handle into a single
// backend open call, tracking a PENDING state while that open is
// in-flight, and queuing late arrivals in FIFO order so they're woken in
// the order they asked (spec.md §4.C). Grounded on the map+mutex+stats
// shape of the teacher's internal/cache.LRUCache, generalized to a
// sharded map: this cache sits on every op_open/op_close call, and a
// single global mutex would serialize a hot path the teacher's own cache
// never has to carry this much concurrent traffic through.
package opencache

import (
	"sync"
	"time"

	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// DefaultShardCount is the number of independent lock shards the cache
// divides its entries across.
const DefaultShardCount = 64

// DefaultTTL is how long an idle (refcount zero) entry survives before
// the reaper reclaims it, matching the config default cache_ttl.
const DefaultTTL = 60 * time.Second

// OpenFunc performs the actual backend open. It is called with the
// cache's per-entry lock NOT held, so it may block. closeFn is invoked by
// the reaper (or an explicit Evict) once the entry's refcount returns to
// zero and its TTL elapses; it may be nil if the backend needs no
// cleanup (e.g. a synthetic handle).
type OpenFunc func() (private interface{}, closeFn func(), err error)

// AcquireResult is delivered to every waiter once an open resolves,
// successfully or not.
type AcquireResult struct {
	VFSPrivate interface{}
	Err        error
}

type state int

const (
	stateOpen state = iota
	statePending
)

type waiter struct {
	exclusive bool
	done      func(AcquireResult)
}

type entry struct {
	state      state
	private    interface{}
	closeFn    func()
	refs       int
	exclusive  bool
	lastUsed   time.Time
	openErr    error
	blocked    []waiter // FIFO queue of acquirers waiting on this entry
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Cache is the open-handle cache. The zero value is not usable; call New.
type Cache struct {
	shards []*shard
	ttl    time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
}

// Config configures a Cache.
type Config struct {
	ShardCount int
	TTL        time.Duration
}

// DefaultConfig returns the cache's default shard count and TTL.
func DefaultConfig() Config {
	return Config{ShardCount: DefaultShardCount, TTL: DefaultTTL}
}

// New creates a Cache and starts its background reaper.
func New(cfg Config) *Cache {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = DefaultShardCount
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := &Cache{
		shards: make([]*shard, cfg.ShardCount),
		ttl:    cfg.TTL,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	go c.reapLoop()

	return c
}

// Close stops the reaper goroutine. Entries already cached are left in
// place; callers that need a clean shutdown should Evict everything
// first.
func (c *Cache) Close() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Cache) shardFor(fh vfsattr.FH) *shard {
	return c.shards[fh.Hash()%uint64(len(c.shards))]
}

// Acquire resolves fh to a cached open, deduplicating concurrent opens of
// the same handle into a single call to open. done is invoked exactly
// once, synchronously if the entry is already open and compatible with
// exclusive, or asynchronously (from whichever goroutine completes the
// open) otherwise. Acquirers that arrive while an open is in flight, or
// while the entry is held exclusively, are queued and woken in the order
// they called Acquire (spec.md §8 property: blocked-acquirer FIFO
// ordering).
func (c *Cache) Acquire(fh vfsattr.FH, exclusive bool, open OpenFunc, done func(AcquireResult)) {
	key := string(fh)
	sh := c.shardFor(fh)

	sh.mu.Lock()

	e, ok := sh.entries[key]
	if !ok {
		e = &entry{state: statePending, exclusive: exclusive}
		sh.entries[key] = e
		sh.mu.Unlock()

		c.fulfill(sh, key, e, open, done)
		return
	}

	switch e.state {
	case statePending:
		e.blocked = append(e.blocked, waiter{exclusive: exclusive, done: done})
		sh.mu.Unlock()
		return

	case stateOpen:
		if e.exclusive || exclusive {
			// Either the entry is already held exclusively, or this
			// acquirer wants exclusive access to a handle someone else
			// holds: either way this acquirer must wait its turn.
			e.blocked = append(e.blocked, waiter{exclusive: exclusive, done: done})
			sh.mu.Unlock()
			return
		}
		e.refs++
		e.lastUsed = time.Now()
		private := e.private
		sh.mu.Unlock()
		done(AcquireResult{VFSPrivate: private})
		return
	}
	sh.mu.Unlock()
}

// fulfill runs open() with no lock held, then installs the result,
// notifies the acquirer that triggered the open, and wakes every waiter
// that queued up behind it in FIFO order.
func (c *Cache) fulfill(sh *shard, key string, e *entry, open OpenFunc, done func(AcquireResult)) {
	private, closeFn, err := open()

	sh.mu.Lock()
	e.private = private
	e.closeFn = closeFn
	e.openErr = err
	e.lastUsed = time.Now()

	if err != nil {
		delete(sh.entries, key)
		blocked := e.blocked
		sh.mu.Unlock()
		done(AcquireResult{Err: err})
		for _, w := range blocked {
			w.done(AcquireResult{Err: err})
		}
		return
	}

	e.state = stateOpen
	e.refs = 1 // the opener itself holds one reference

	blocked := e.blocked
	e.blocked = nil
	sh.mu.Unlock()

	done(AcquireResult{VFSPrivate: private})

	for _, w := range blocked {
		c.retryWaiter(sh, key, e, w)
	}
}

// retryWaiter re-evaluates a queued waiter against an entry already known
// to exist, either granting it immediately (incrementing refs) or
// re-queuing it behind whoever now holds the entry exclusively.
func (c *Cache) retryWaiter(sh *shard, key string, e *entry, w waiter) {
	sh.mu.Lock()
	if e.exclusive && e.refs > 0 {
		e.blocked = append(e.blocked, w)
		sh.mu.Unlock()
		return
	}
	e.refs++
	if w.exclusive {
		e.exclusive = true
	}
	e.lastUsed = time.Now()
	private := e.private
	sh.mu.Unlock()
	w.done(AcquireResult{VFSPrivate: private})
}

// Release drops one reference on fh's cached entry. When the refcount
// reaches zero the entry becomes eligible for TTL reclaim but stays
// cached (and exclusive mode is cleared) so a subsequent Acquire before
// the TTL elapses is still a cache hit.
func (c *Cache) Release(fh vfsattr.FH) {
	key := string(fh)
	sh := c.shardFor(fh)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 {
		e.exclusive = false
		e.lastUsed = time.Now()
	}
	var woken []waiter
	if e.refs == 0 && len(e.blocked) > 0 {
		woken = append(woken, e.blocked[0])
		e.blocked = e.blocked[1:]
	}
	sh.mu.Unlock()

	for _, w := range woken {
		c.retryWaiter(sh, key, e, w)
	}
}

// Evict forcibly removes fh's entry, invoking its close function if one
// was registered. Used by explicit close/invalidation paths as well as
// the reaper.
func (c *Cache) Evict(fh vfsattr.FH) {
	key := string(fh)
	sh := c.shardFor(fh)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, key)
	closeFn := e.closeFn
	sh.mu.Unlock()

	if closeFn != nil {
		closeFn()
	}
}

// Len reports the total number of cached entries across all shards.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

func (c *Cache) reapLoop() {
	defer close(c.doneCh)

	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.reapExpired()
		}
	}
}

func (c *Cache) reapExpired() {
	now := time.Now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		var expired []string
		for key, e := range sh.entries {
			if e.state == stateOpen && e.refs == 0 && now.Sub(e.lastUsed) > c.ttl {
				expired = append(expired, key)
			}
		}
		var closeFns []func()
		for _, key := range expired {
			closeFns = append(closeFns, sh.entries[key].closeFn)
			delete(sh.entries, key)
		}
		sh.mu.Unlock()

		for _, fn := range closeFns {
			if fn != nil {
				fn()
			}
		}
	}
}

// ErrWouldBlock is returned by callers that choose not to wait on a
// pending/exclusive entry (e.g. a non-blocking protocol fast path probing
// whether an open is already cached).
var ErrWouldBlock = vfserrors.New(vfserrors.DELAY, "opencache: handle is pending or held exclusively")
