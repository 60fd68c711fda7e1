// Package cache implements the layered cache core: a weak-reference map,
// an expiring in-memory map, a tier-sharded on-disk map, and a bounded
// negative-lookup map, composed behind a single-flight upstream fetch
// coordinator and a background cleanup sweep.
package cache

import (
	"sort"
	"sync"
	"time"
	"weak"

	assetcache "github.com/jamenai/opensim-assetcache"
)

// weakTier is the promotion-free hot-path lookup map. It never blocks a
// reader on GC and holds no strong reference of its own: an entry's target
// may be reclaimed by the runtime at any moment between insertion and
// lookup, exactly the semantics stdlib weak.Pointer[T] provides natively,
// which is why this cache targets Go 1.24+ rather than emulating weak
// references with a bounded LRU.
type weakTier struct {
	mu      sync.RWMutex
	entries map[string]weak.Pointer[assetcache.Asset]
}

func newWeakTier() *weakTier {
	return &weakTier{entries: make(map[string]weak.Pointer[assetcache.Asset])}
}

func (w *weakTier) get(id string) (*assetcache.Asset, bool) {
	w.mu.RLock()
	p, ok := w.entries[id]
	w.mu.RUnlock()
	if !ok {
		return nil, false
	}
	a := p.Value()
	return a, a != nil
}

func (w *weakTier) put(a *assetcache.Asset) {
	w.mu.Lock()
	w.entries[a.ID] = weak.Make(a)
	w.mu.Unlock()
}

func (w *weakTier) remove(id string) {
	w.mu.Lock()
	delete(w.entries, id)
	w.mu.Unlock()
}

// reset replaces the map with an empty one, the terminal step of every
// cleanup sweep: the weak tier exists only to short-circuit live lookups,
// not to persist state, so it is safe to drop wholesale.
func (w *weakTier) reset() {
	w.mu.Lock()
	w.entries = make(map[string]weak.Pointer[assetcache.Asset])
	w.mu.Unlock()
}

// sample returns up to n IDs currently tracked, live or not, for the
// status command's approximate live-entry estimate.
func (w *weakTier) sample(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, min(n, len(w.entries)))
	for id := range w.entries {
		if len(ids) >= n {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func (w *weakTier) countLive(sample []string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	live := 0
	for _, id := range sample {
		if p, ok := w.entries[id]; ok && p.Value() != nil {
			live++
		}
	}
	return live
}

// memoryEntry pairs an asset with its expiry timestamp.
type memoryEntry struct {
	asset  *assetcache.Asset
	expiry time.Time
}

// memoryTier is the expiring in-memory map. Entries are pruned lazily on
// lookup; a live entry never blocks a reader.
type memoryTier struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func newMemoryTier(ttl time.Duration, now func() time.Time) *memoryTier {
	return &memoryTier{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (m *memoryTier) get(id string) (*assetcache.Asset, bool) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiry) {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		return nil, false
	}
	return e.asset, true
}

func (m *memoryTier) put(a *assetcache.Asset) {
	m.mu.Lock()
	m.entries[a.ID] = memoryEntry{asset: a, expiry: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *memoryTier) remove(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

func (m *memoryTier) clear() {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
}

// negativeTier is the bounded, time-expiring map of IDs known to be absent
// from upstream. Its prune algorithm — sample a bounded slice, sort
// ascending by expiry, drop the oldest batch — is grounded on this
// module's earlier S3-FIFO ghost-queue eviction manager, which faced the
// same problem (a map that must never grow unbounded, sampled rather than
// fully scanned to keep the sweep cheap).
type negativeTier struct {
	maxEntries int
	pruneBatch int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func newNegativeTier(maxEntries, pruneBatch int, now func() time.Time) *negativeTier {
	return &negativeTier{
		maxEntries: maxEntries,
		pruneBatch: pruneBatch,
		now:        now,
		entries:    make(map[string]time.Time),
	}
}

func (n *negativeTier) has(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	expiry, ok := n.entries[id]
	if !ok {
		return false
	}
	if n.now().After(expiry) {
		delete(n.entries, id)
		return false
	}
	return true
}

func (n *negativeTier) put(id string, ttl time.Duration) {
	n.mu.Lock()
	n.entries[id] = n.now().Add(ttl)
	shouldPrune := len(n.entries) > n.maxEntries
	n.mu.Unlock()
	if shouldPrune {
		n.prune()
	}
}

func (n *negativeTier) remove(id string) {
	n.mu.Lock()
	delete(n.entries, id)
	n.mu.Unlock()
}

func (n *negativeTier) clear() {
	n.mu.Lock()
	n.entries = make(map[string]time.Time)
	n.mu.Unlock()
}

func (n *negativeTier) size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// sweepExpired removes every entry whose expiry has already passed; step 1
// of the cleanup sweep, before the sampled-prune pass.
func (n *negativeTier) sweepExpired() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	removed := 0
	for id, expiry := range n.entries {
		if now.After(expiry) {
			delete(n.entries, id)
			removed++
		}
	}
	return removed
}

const maxPruneSample = 5000

// prune samples up to maxPruneSample entries in map iteration order, sorts
// them ascending by expiry, and removes up to pruneBatch of the oldest.
// Repeated calls converge the map back under maxEntries.
func (n *negativeTier) prune() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.entries) <= n.maxEntries {
		return 0
	}

	type sample struct {
		id     string
		expiry time.Time
	}
	samples := make([]sample, 0, min(maxPruneSample, len(n.entries)))
	for id, expiry := range n.entries {
		if len(samples) >= maxPruneSample {
			break
		}
		samples = append(samples, sample{id, expiry})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].expiry.Before(samples[j].expiry) })

	batch := n.pruneBatch
	if batch > len(samples) {
		batch = len(samples)
	}
	for i := 0; i < batch; i++ {
		delete(n.entries, samples[i].id)
	}
	return batch
}
