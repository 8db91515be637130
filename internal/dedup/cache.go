package dedup

import (
	"sort"
	"sync"
	"time"

	"github.com/odesys/relay/internal/event"
)

// Policy selects how entries are evicted once the cache is over capacity.
type Policy int

const (
	// EvictByUpload drops aged-out entries first, then the oldest-uploaded
	// until the cache fits. Entries that were seen but never uploaded are
	// never evicted; they correspond to events still sitting in the queue.
	EvictByUpload Policy = iota
	// EvictByInsertion drops the oldest half of all entries by insertion
	// order in one bulk pass, regardless of upload state. Used by the
	// forwarding cache.
	EvictByInsertion
)

// notUploaded marks a fingerprint that has been observed but not delivered.
const notUploaded int64 = 0

// Options configures a Cache.
type Options struct {
	// Cap bounds the number of tracked fingerprints. <=0 means DefaultCap.
	Cap int
	// MaxAge expires uploaded entries; 0 disables age-based expiry.
	// Ignored under EvictByInsertion.
	MaxAge time.Duration
	// Policy selects the eviction behavior.
	Policy Policy
}

// DefaultCap bounds the window when no capacity is configured.
const DefaultCap = 1000

// Cache is a bounded fingerprint window. All methods are safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[event.Fingerprint]int64
	order   []event.Fingerprint
	cap     int
	maxAge  time.Duration
	policy  Policy
}

// New creates a Cache.
func New(opts Options) *Cache {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	return &Cache{
		entries: make(map[event.Fingerprint]int64),
		cap:     opts.Cap,
		maxAge:  opts.MaxAge,
		policy:  opts.Policy,
	}
}

// Contains reports whether fp is tracked, uploaded or not.
func (c *Cache) Contains(fp event.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fp]
	return ok
}

// MarkSeen records fp as observed-but-not-uploaded. Existing entries keep
// their upload time. Called at enqueue and when reloading a snapshot so a
// restart re-arms the window for still-queued events.
func (c *Cache) MarkSeen(fp event.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[fp]; ok {
		return
	}
	c.entries[fp] = notUploaded
	c.order = append(c.order, fp)
}

// MarkUploaded records a successful delivery of fp at atMs. atMs <= 0 means
// now. Unknown fingerprints are inserted. Triggers cleanup when the cache
// is over capacity.
func (c *Cache) MarkUploaded(fp event.Fingerprint, atMs int64) {
	if atMs <= 0 {
		atMs = time.Now().UnixMilli()
	}
	c.mu.Lock()
	if _, ok := c.entries[fp]; !ok {
		c.order = append(c.order, fp)
	}
	c.entries[fp] = atMs
	over := len(c.entries) > c.cap
	c.mu.Unlock()
	if over {
		c.Cleanup(atMs)
	}
}

// Cleanup evicts entries per the configured policy. nowMs <= 0 means now.
func (c *Cache) Cleanup(nowMs int64) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.policy {
	case EvictByInsertion:
		c.cleanupByInsertion()
	default:
		c.cleanupByUpload(nowMs)
	}
	c.compactOrder()
}

func (c *Cache) cleanupByUpload(nowMs int64) {
	// Age-based expiry first.
	if c.maxAge > 0 {
		ageMs := c.maxAge.Milliseconds()
		for fp, at := range c.entries {
			if at != notUploaded && nowMs-at > ageMs {
				delete(c.entries, fp)
			}
		}
	}
	if len(c.entries) <= c.cap {
		return
	}
	// Oldest-uploaded first; never-uploaded entries are protected, so the
	// cache may legitimately stay above cap while the queue is backed up.
	type pair struct {
		fp event.Fingerprint
		at int64
	}
	uploaded := make([]pair, 0, len(c.entries))
	for _, fp := range c.order {
		at, ok := c.entries[fp]
		if !ok || at == notUploaded {
			continue
		}
		uploaded = append(uploaded, pair{fp: fp, at: at})
	}
	sort.SliceStable(uploaded, func(i, j int) bool { return uploaded[i].at < uploaded[j].at })
	for _, p := range uploaded {
		if len(c.entries) <= c.cap {
			break
		}
		delete(c.entries, p.fp)
	}
}

func (c *Cache) cleanupByInsertion() {
	if len(c.entries) <= c.cap {
		return
	}
	// Bulk drop to half capacity, oldest insertions first.
	target := c.cap / 2
	if target < 1 {
		target = 1
	}
	for _, fp := range c.order {
		if len(c.entries) <= target {
			break
		}
		delete(c.entries, fp)
	}
}

// compactOrder drops stale fingerprints from the insertion list once it has
// grown well past the live set. Caller holds the lock.
func (c *Cache) compactOrder() {
	if len(c.order) <= len(c.entries)*2+16 {
		return
	}
	live := c.order[:0]
	for _, fp := range c.order {
		if _, ok := c.entries[fp]; ok {
			live = append(live, fp)
		}
	}
	c.order = live
}

// Size returns the number of tracked fingerprints.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
