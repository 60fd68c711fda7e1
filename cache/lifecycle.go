package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jamenai/opensim-assetcache/telemetry"
	"github.com/jamenai/opensim-assetcache/writer"
)

// AttachScene registers scene as an active collaborator, starting the
// write-pipeline worker pool and the cleanup timer on the first attach, per
// §4.7. Idempotent across repeated attaches of the same scene ID.
func (c *Cache) AttachScene(ctx context.Context, scene Scene) {
	c.mu.Lock()
	_, already := c.scenes[scene.ID()]
	c.scenes[scene.ID()] = scene
	shouldStart := !c.started
	c.started = true
	c.mu.Unlock()

	if already {
		return
	}
	if shouldStart {
		c.start(ctx)
	}
}

// DetachScene deregisters scene; if no scenes remain, cleanup is stopped
// and the writer pool is drained.
func (c *Cache) DetachScene(scene Scene) {
	c.mu.Lock()
	delete(c.scenes, scene.ID())
	remaining := len(c.scenes)
	c.mu.Unlock()

	if remaining == 0 {
		c.Stop()
	}
}

// start spawns the writer pool and the cleanup timer, per §4.7's "Start
// (first scene attaches)". Both are rebuilt from scratch whenever the
// existing instance was previously stopped: a Pool/cleanupScheduler that
// has been through Stop() never resumes, so reusing one across a
// detach-then-reattach (scene count 0->1) would leave cleanup silently
// dead and make every subsequent write panic on a send to its closed job
// channel.
func (c *Cache) start(ctx context.Context) {
	c.mu.Lock()
	if c.cfg.FileCacheEnabled && (c.pool == nil || c.pool.Stopped()) {
		c.pool = writer.New(c.cfg.WriterWorkers, writer.WithLogger(c.cfg.Logger))
		if c.disk != nil {
			c.disk.pool = c.pool
		}
	}

	var scheduler *cleanupScheduler
	if c.cfg.CleanupPeriod > 0 {
		if c.cleanupScheduler == nil || c.cleanupScheduler.Stopped() {
			c.cleanupScheduler = newCleanupScheduler(c.cfg.CleanupPeriod, c.runCleanup)
		}
		scheduler = c.cleanupScheduler
	}
	c.mu.Unlock()

	if scheduler != nil {
		scheduler.Start(ctx)
	}
}

// Stop halts the cleanup timer and drains the writer pool. It is safe to
// call multiple times.
func (c *Cache) Stop() {
	c.mu.Lock()
	scheduler := c.cleanupScheduler
	pool := c.pool
	c.started = false
	c.mu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
	if pool != nil {
		pool.Stop()
	}
}

// runCleanup performs one full sweep: negative-map sweep, scene gather,
// directory walk, and weak-map reset — the five steps of §4.6 — and
// reports the combined tally through the telemetry package.
func (c *Cache) runCleanup(ctx context.Context, cancelled *atomic.Bool) CleanupResult {
	start := time.Now()
	var result CleanupResult

	if c.cfg.NegativeCacheEnabled {
		result.NegativesExpired = c.negative.sweepExpired()
		result.NegativesPruned = c.negative.prune()
	}

	spared := c.sparedPredicate()

	if c.disk != nil {
		wr := walkShards(ctx, sweepDeps{
			root:          c.cfg.CacheRoot,
			fileTTL:       c.cfg.FileTTL,
			bakMaxAge:     c.cfg.BakMaxAge,
			bakEnabled:    c.cfg.BakCleanupEnabled,
			warnAt:        c.cfg.CacheWarnAt,
			now:           time.Now,
			spared:        spared,
			onFileDeleted: c.weak.remove,
			logger:        c.logger,
		}, cancelled)

		result.FilesDeleted = wr.filesDeleted
		result.BaksDeleted = wr.baksDeleted
		result.DirsRemoved = wr.dirsRemoved
		result.BytesFreed = wr.bytesFreed
		result.Errors = wr.errors
	}

	c.weak.reset()

	result.Duration = time.Since(start)

	telemetry.RecordCleanupRun(ctx, result.Duration, result.FilesDeleted, result.DirsRemoved, result.BytesFreed)
	if c.cfg.NegativeCacheEnabled {
		telemetry.RecordNegativeCacheSize(ctx, c.negative.size())
	}

	return result
}

// sparedPredicate returns a function reporting whether id must be spared
// from cleanup: it is in the sticky default-assets set, or it is currently
// referenced by an attached scene (§4.6 step 2/3).
func (c *Cache) sparedPredicate() func(id string) bool {
	c.mu.Lock()
	scenes := make([]Scene, 0, len(c.scenes))
	for _, s := range c.scenes {
		scenes = append(scenes, s)
	}
	defaults := c.defaultAssets
	defaultsDB := c.defaultsDB
	c.mu.Unlock()

	sceneIDs := gatherSceneIDs(scenes)

	return func(id string) bool {
		if _, ok := defaults[id]; ok {
			return true
		}
		if defaultsDB != nil && defaultsDB.Has(id) {
			return true
		}
		_, ok := sceneIDs[id]
		return ok
	}
}

// RunCleanupNow runs the cleanup sweep off the timer path, the
// "expire <when>" control-surface verb from §4.7. purgeLine is accepted
// for API symmetry with the source's `purge_line` parameter; this
// implementation always evaluates staleness against the current wall
// clock, consistent with file_ttl being relative rather than absolute.
func (c *Cache) RunCleanupNow(ctx context.Context, _ time.Time) CleanupResult {
	c.mu.Lock()
	scheduler := c.cleanupScheduler
	c.mu.Unlock()
	if scheduler != nil {
		return scheduler.RunNow(ctx)
	}
	var cancelled atomic.Bool
	return c.runCleanup(ctx, &cancelled)
}

// DeepTouch runs the scene-gather pass, bumps the file time of every
// referenced asset that is already cached and, for each referenced UUID
// that is not, issues an upstream fetch to repopulate it. It calls
// upstream directly rather than through the single-flight coordinator, per
// §4.7 and §9's open question: a maintenance sweep must not self-join a
// concurrent user request for the same ID. A per-region status-stamp file
// records when the pass ran for that region.
func (c *Cache) DeepTouch(ctx context.Context, regionID string) (repopulated int, err error) {
	c.mu.Lock()
	scenes := make([]Scene, 0, len(c.scenes))
	for _, s := range c.scenes {
		scenes = append(scenes, s)
	}
	c.mu.Unlock()

	ids := gatherSceneIDs(scenes)

	for id := range ids {
		if c.Check(id) {
			if c.disk != nil {
				if path, ok := c.disk.pathFor(id); ok {
					touchFileTime(path, time.Now(), c.logger)
				}
			}
			continue
		}
		if c.upstream == nil {
			continue
		}
		asset, present, fetchErr := c.upstream.Fetch(ctx, id)
		if fetchErr != nil {
			c.logger.Warn("deep-touch fetch failed", "id", id, "error", fetchErr)
			continue
		}
		if !present {
			continue
		}
		c.Cache(asset, false)
		repopulated++
	}

	if err := c.stampRegion(regionID); err != nil {
		return repopulated, err
	}
	return repopulated, nil
}

// stampRegion writes/touches the per-region status-stamp file recording
// when deep-touch last ran for regionID, per §6's on-disk layout.
func (c *Cache) stampRegion(regionID string) error {
	c.mu.Lock()
	c.regionStamps[regionID] = time.Now()
	c.mu.Unlock()

	if c.cfg.CacheRoot == "" {
		return nil
	}
	path := filepath.Join(c.cfg.CacheRoot, fmt.Sprintf("RegionStatus_%s.fac", regionID))
	if err := os.MkdirAll(c.cfg.CacheRoot, 0o755); err != nil {
		return fmt.Errorf("creating cache root: %w", err)
	}
	content := []byte(fmt.Sprintf("deep-touch ran at %s\n", time.Now().UTC().Format(time.RFC3339)))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing region status stamp: %w", err)
	}
	return nil
}

// CacheDefaultAssets enumerates built-in assets via loader for the named
// set and adds their IDs to the sticky cleanup-exempt allowlist.
func (c *Cache) CacheDefaultAssets(ctx context.Context, loader DefaultAssetsLoader, set string) (int, error) {
	ids, err := loader.LoadDefaultAssetIDs(ctx, set)
	if err != nil {
		return 0, fmt.Errorf("loading default assets: %w", err)
	}

	c.mu.Lock()
	for _, id := range ids {
		c.defaultAssets[id] = struct{}{}
	}
	db := c.defaultsDB
	c.mu.Unlock()

	if db != nil {
		if err := db.Add(ids); err != nil {
			return len(ids), fmt.Errorf("persisting default assets: %w", err)
		}
	}
	return len(ids), nil
}

// DeleteDefaultAssets clears the sticky default-assets allowlist, the
// "deletedefaultassets" control-surface verb.
func (c *Cache) DeleteDefaultAssets() error {
	c.mu.Lock()
	c.defaultAssets = make(map[string]struct{})
	db := c.defaultsDB
	c.mu.Unlock()

	if db != nil {
		return db.Clear()
	}
	return nil
}

// Status reports the figures §4.7's status verb names: request/hit
// counters per tier, an approximate live weak-entry count from a sampled
// subset, the in-flight join count, and per-region deep-scan timestamps.
type Status struct {
	Requests      int64
	WeakHits      int64
	MemoryHits    int64
	FileHits      int64
	Misses        int64
	NegativeSize  int
	InflightJoins int64
	WeakLiveEst   int
	WeakSampled   int
	RegionStamps  map[string]time.Time
}

// Status builds a Status snapshot. The weak-tier live estimate samples up
// to HitReportWeakSampleTarget entries and reports how many still resolve,
// the same sampled-liveness approximation §9 calls for when weak
// references are available natively (exact counting is unnecessary and
// would require walking the whole map under lock).
func (c *Cache) Status() Status {
	sample := c.weak.sample(c.cfg.HitReportWeakSampleTarget)
	live := c.weak.countLive(sample)

	negSize := 0
	if c.cfg.NegativeCacheEnabled {
		negSize = c.negative.size()
	}

	c.mu.Lock()
	stamps := make(map[string]time.Time, len(c.regionStamps))
	for k, v := range c.regionStamps {
		stamps[k] = v
	}
	c.mu.Unlock()

	return Status{
		Requests:      c.counters.requests.Load(),
		WeakHits:      c.counters.weakHits.Load(),
		MemoryHits:    c.counters.memoryHits.Load(),
		FileHits:      c.counters.fileHits.Load(),
		Misses:        c.counters.misses.Load(),
		NegativeSize:  negSize,
		InflightJoins: c.InflightJoins(),
		WeakLiveEst:   live,
		WeakSampled:   len(sample),
		RegionStamps:  stamps,
	}
}

// ClearNegatives drops every entry in the negative cache, the
// "clearnegatives" control-surface verb.
func (c *Cache) ClearNegatives() {
	if c.cfg.NegativeCacheEnabled {
		c.negative.clear()
	}
}

// CleanBak deletes every `.bak` sibling older than BakMaxAge under
// CacheRoot immediately, the "cleanbak" control-surface verb, independent
// of the TTL-based file sweep.
func (c *Cache) CleanBak(ctx context.Context) CleanupResult {
	if c.disk == nil {
		return CleanupResult{}
	}
	start := time.Now()
	var cancelled atomic.Bool
	wr := walkShards(ctx, sweepDeps{
		root:       c.cfg.CacheRoot,
		fileTTL:    time.Duration(1<<63 - 1), // never treat a live file as stale during a bak-only pass
		bakMaxAge:  c.cfg.BakMaxAge,
		bakEnabled: true,
		warnAt:     c.cfg.CacheWarnAt,
		now:        time.Now,
		spared:     func(string) bool { return true },
		logger:     c.logger,
	}, &cancelled)

	return CleanupResult{
		BaksDeleted: wr.baksDeleted,
		BytesFreed:  wr.bytesFreed,
		Errors:      wr.errors,
		Duration:    time.Since(start),
	}
}
