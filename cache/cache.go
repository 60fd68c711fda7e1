package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/jamenai/opensim-assetcache/defaultsdb"
	"github.com/jamenai/opensim-assetcache/telemetry"
	"github.com/jamenai/opensim-assetcache/writer"
)

// hitCounters tallies requests and hits per tier for the status
// control-surface verb (§4.7); every field is updated with atomic ops since
// requests arrive from arbitrarily many goroutines.
type hitCounters struct {
	requests   atomic.Int64
	weakHits   atomic.Int64
	memoryHits atomic.Int64
	fileHits   atomic.Int64
	misses     atomic.Int64
}

// Cache is the layered cache core: weak -> memory -> file -> upstream,
// guarded by a bounded negative map and a single-flight coordinator.
// Grounded on this module's earlier top-level store type, which composed a
// CAFS backend and a metadata index behind the same kind of narrow public
// surface; here the layers are weak/memory/file/negative instead of a
// single content-addressed backend, and upstream replaces the registry
// transport.
type Cache struct {
	cfg      assetcache.Config
	logger   *slog.Logger
	upstream Upstream

	weak     *weakTier
	memory   *memoryTier // nil if disabled
	disk     *diskTier   // nil if disabled
	negative *negativeTier

	coordinator *coordinator
	pool        *writer.Pool // nil if file tier disabled

	counters hitCounters

	mu               sync.Mutex
	scenes           map[string]Scene
	defaultAssets    map[string]struct{}
	defaultsDB       *defaultsdb.DB // nil unless WithDefaultsDB is used
	started          bool
	cleanupScheduler *cleanupScheduler
	regionStamps     map[string]time.Time
	lastTouchByPath  map[string]time.Time
}

// Option configures optional Cache collaborators that have no sensible
// zero value, applied after tier construction in New.
type Option func(*Cache)

// WithDefaultsDB attaches a persistent sticky default-assets allowlist. Without
// it, CacheDefaultAssets/DeleteDefaultAssets operate on the in-memory set only,
// which does not survive a restart.
func WithDefaultsDB(db *defaultsdb.DB) Option {
	return func(c *Cache) { c.defaultsDB = db }
}

// New constructs a Cache from cfg, normalizing defaults and clamps before
// wiring any tier. upstream may be nil; with a nil upstream every lookup
// that misses the local tiers is a miss, and no negative entry is recorded.
func New(cfg assetcache.Config, upstream Upstream, opts ...Option) (*Cache, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}

	c := &Cache{
		cfg:             cfg,
		logger:          cfg.Logger,
		upstream:        upstream,
		weak:            newWeakTier(),
		negative:        newNegativeTier(cfg.NegativeMaxEntries, cfg.NegativePruneBatch, time.Now),
		coordinator:     newCoordinator(cfg.Logger),
		scenes:          make(map[string]Scene),
		defaultAssets:   make(map[string]struct{}),
		regionStamps:    make(map[string]time.Time),
		lastTouchByPath: make(map[string]time.Time),
	}

	if cfg.MemoryCacheEnabled {
		c.memory = newMemoryTier(cfg.MemoryTTL, time.Now)
	}

	if cfg.FileCacheEnabled {
		c.pool = writer.New(cfg.WriterWorkers, writer.WithLogger(cfg.Logger))
		c.disk = newDiskTier(cfg.CacheRoot, cfg.Tiers, cfg.TierLen, cfg.MaxStringBytes, cfg.MaxDataBytes, cfg.BakCleanupEnabled, c.pool, cfg.Logger)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.defaultsDB != nil {
		if ids, err := c.defaultsDB.All(); err == nil {
			for _, id := range ids {
				c.defaultAssets[id] = struct{}{}
			}
		}
	}

	return c, nil
}

// Get consults weak, memory, file, and finally upstream (through the
// single-flight coordinator), in that order, per §4.4.
func (c *Cache) Get(ctx context.Context, id string) (*assetcache.Asset, bool) {
	n := c.counters.requests.Add(1)
	if n%int64(c.cfg.HitRateDisplay) == 0 {
		c.logger.Info("cache hit rate",
			"requests", n,
			"weak_hits", c.counters.weakHits.Load(),
			"memory_hits", c.counters.memoryHits.Load(),
			"file_hits", c.counters.fileHits.Load(),
			"misses", c.counters.misses.Load(),
		)
	}

	if assetcache.Blank(id) {
		c.counters.misses.Add(1)
		telemetry.RecordRequest(ctx, telemetry.TierMiss)
		return nil, false
	}

	if a, ok := c.weak.get(id); ok {
		c.counters.weakHits.Add(1)
		c.promoteFromWeak(a)
		telemetry.RecordRequest(ctx, telemetry.TierWeak)
		return a, true
	}

	if c.memory != nil {
		if a, ok := c.memory.get(id); ok {
			c.counters.memoryHits.Add(1)
			c.promoteFromMemory(a)
			telemetry.RecordRequest(ctx, telemetry.TierMemory)
			return a, true
		}
	}

	if c.disk != nil {
		if a, ok := c.disk.get(id); ok {
			c.counters.fileHits.Add(1)
			c.promoteFromFile(a)
			telemetry.RecordRequest(ctx, telemetry.TierFile)
			return a, true
		}
	}

	if c.cfg.NegativeCacheEnabled && c.negative.has(id) {
		c.counters.misses.Add(1)
		telemetry.RecordRequest(ctx, telemetry.TierNegative)
		return nil, false
	}

	asset, ok := c.fetchUpstream(ctx, id)
	if !ok {
		c.counters.misses.Add(1)
		telemetry.RecordRequest(ctx, telemetry.TierMiss)
		return nil, false
	}
	telemetry.RecordRequest(ctx, telemetry.TierUpstream)
	return asset, true
}

// GetFromMemory is Get without the file tier or upstream: weak and memory
// only, per §4.4.
func (c *Cache) GetFromMemory(id string) (*assetcache.Asset, bool) {
	if assetcache.Blank(id) {
		return nil, false
	}
	if a, ok := c.weak.get(id); ok {
		c.promoteFromWeak(a)
		return a, true
	}
	if c.memory != nil {
		if a, ok := c.memory.get(id); ok {
			c.promoteFromMemory(a)
			return a, true
		}
	}
	return nil, false
}

// Check reports presence across weak/memory/file without counting as a
// hit and without consulting upstream.
func (c *Cache) Check(id string) bool {
	if assetcache.Blank(id) {
		return false
	}
	if _, ok := c.weak.get(id); ok {
		return true
	}
	if c.memory != nil {
		if _, ok := c.memory.get(id); ok {
			return true
		}
	}
	if c.disk != nil {
		return c.disk.check(id)
	}
	return false
}

// promoteFromWeak refreshes the memory tier on a weak hit, per the §4.4 hit
// policy, and clears any stale negative entry.
func (c *Cache) promoteFromWeak(a *assetcache.Asset) {
	if c.memory != nil {
		c.memory.put(a)
	}
	if c.cfg.NegativeCacheEnabled {
		c.negative.remove(a.ID)
	}
	c.maybeTouchFile(a.ID)
}

// promoteFromMemory refreshes the weak tier on a memory hit and clears any
// stale negative entry, per the §4.4 hit policy: "Any successful hit
// removes the ID from the negative map."
func (c *Cache) promoteFromMemory(a *assetcache.Asset) {
	c.weak.put(a)
	if c.cfg.NegativeCacheEnabled {
		c.negative.remove(a.ID)
	}
}

// promoteFromFile refreshes weak and memory on a file hit.
func (c *Cache) promoteFromFile(a *assetcache.Asset) {
	c.weak.put(a)
	if c.memory != nil {
		c.memory.put(a)
	}
	if c.cfg.NegativeCacheEnabled {
		c.negative.remove(a.ID)
	}
}

// maybeTouchFile debounces a last-access bump on the backing file per
// update_file_time_on_cache_hit, at most once per AccessTouchDebounce per
// path.
func (c *Cache) maybeTouchFile(id string) {
	if !c.cfg.UpdateFileTimeOnCacheHit || c.disk == nil {
		return
	}
	path, ok := c.disk.pathFor(id)
	if !ok {
		return
	}
	c.mu.Lock()
	last, seen := c.lastTouchByPath[path]
	now := time.Now()
	if seen && now.Sub(last) < c.cfg.AccessTouchDebounce {
		c.mu.Unlock()
		return
	}
	c.lastTouchByPath[path] = now
	c.mu.Unlock()

	touchFileTime(path, now, c.logger)
}

// Cache inserts asset into weak and memory (if enabled) and enqueues a
// file write (if enabled), clearing any negative entry for its ID.
func (c *Cache) Cache(asset *assetcache.Asset, replace bool) {
	if asset == nil || assetcache.Blank(asset.ID) {
		return
	}
	c.weak.put(asset)
	if c.memory != nil {
		c.memory.put(asset)
	}
	if c.disk != nil {
		c.disk.put(asset, replace)
	}
	if c.cfg.NegativeCacheEnabled {
		c.negative.remove(asset.ID)
	}
}

// CacheNegative records id as known-absent upstream for NegativeTTL.
func (c *Cache) CacheNegative(id string) {
	if !c.cfg.NegativeCacheEnabled || assetcache.Blank(id) {
		return
	}
	c.negative.put(id, c.cfg.NegativeTTL)
}

// Expire removes id from every tier, including the file tier
// (best-effort).
func (c *Cache) Expire(id string) {
	if assetcache.Blank(id) {
		return
	}
	c.weak.remove(id)
	if c.memory != nil {
		c.memory.remove(id)
	}
	if c.cfg.NegativeCacheEnabled {
		c.negative.remove(id)
	}
	if c.disk != nil {
		c.disk.remove(id)
	}
}

// Clear drops every shard directory, resets weak and memory, and clears
// negatives.
func (c *Cache) Clear() {
	c.weak.reset()
	if c.memory != nil {
		c.memory.clear()
	}
	if c.cfg.NegativeCacheEnabled {
		c.negative.clear()
	}
	if c.disk != nil {
		c.disk.clear()
	}
}

// ClearScoped backs the "clear [file] [memory]" control-surface verb: with
// no scopes it behaves exactly like Clear; named scopes restrict the drop
// to just the file tier, just the memory tier, or both. The weak tier is
// always reset since it holds no state of its own to preserve selectively.
func (c *Cache) ClearScoped(scopes ...string) {
	if len(scopes) == 0 {
		c.Clear()
		return
	}
	c.weak.reset()
	for _, scope := range scopes {
		switch scope {
		case "file":
			if c.disk != nil {
				c.disk.clear()
			}
		case "memory":
			if c.memory != nil {
				c.memory.clear()
			}
		}
	}
}

// Store assigns a fresh UUID to asset if it is absent or the all-zero
// UUID, then caches it, returning the asset's ID.
func (c *Cache) Store(asset *assetcache.Asset) (string, error) {
	if asset == nil {
		return "", assetcache.ErrNotFound
	}
	if asset.UUID == [16]byte{} {
		asset.UUID = newUUID()
	}
	c.Cache(asset, false)
	return asset.ID, nil
}

// UpdateContent replaces an existing asset's data and recaches it with
// replace=true. It reports false if id is not currently present.
func (c *Cache) UpdateContent(ctx context.Context, id string, data []byte) bool {
	asset, ok := c.Get(ctx, id)
	if !ok {
		return false
	}
	updated := *asset
	updated.Data = data
	c.Cache(&updated, true)
	return true
}

// Metadata is sugar over Get that discards the asset's data payload.
func (c *Cache) Metadata(ctx context.Context, id string) (assetcache.Asset, bool) {
	asset, ok := c.Get(ctx, id)
	if !ok {
		return assetcache.Asset{}, false
	}
	meta := *asset
	meta.Data = nil
	return meta, true
}

// Data is sugar over Get that returns only the asset's data payload.
func (c *Cache) Data(ctx context.Context, id string) ([]byte, bool) {
	asset, ok := c.Get(ctx, id)
	if !ok {
		return nil, false
	}
	return asset.Data, true
}

// fetchUpstream runs the single-flight coordinator's protocol from §4.5,
// including the self-loop guard and the cap on retry backoff.
func (c *Cache) fetchUpstream(ctx context.Context, id string) (*assetcache.Asset, bool) {
	if c.upstream == nil {
		return nil, false
	}
	if sr, ok := c.upstream.(SelfReferential); ok && sr.IsSelf(c.upstream) {
		return nil, false
	}

	res, err := c.coordinator.Fetch(ctx, id, func(ctx context.Context) (*assetcache.Asset, bool, error) {
		return fetchWithBackoff(ctx, c.upstream, id, c.cfg.BackoffAttempts, c.cfg.BackoffInitial, c.cfg.BackoffMax)
	})
	if err != nil {
		c.logger.Warn("upstream fetch failed", "id", id, "error", err)
		telemetry.RecordUpstreamFetch(ctx, false)
		return nil, false
	}
	telemetry.RecordUpstreamFetch(ctx, true)

	if res.absent {
		c.CacheNegative(id)
		return nil, false
	}

	c.Cache(res.asset, false)
	return res.asset, true
}

// InflightJoins reports how many requests joined an already-running
// upstream fetch instead of starting their own.
func (c *Cache) InflightJoins() int64 {
	return c.coordinator.InflightJoins()
}
