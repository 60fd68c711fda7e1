package cache

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// opsPerYield and yield bounds throttle the directory walk's I/O pressure,
// per §4.6 step 4: after every opsPerYield-ish filesystem operations, sleep
// briefly before continuing.
const (
	opsPerYieldMin = 10
	opsPerYieldMax = 20
	yieldSleepMin  = 60 * time.Millisecond
	yieldSleepMax  = 120 * time.Millisecond
)

// sweepDeps bundles what the directory walk needs from the rest of the
// cache, so it can be unit tested against a bare directory tree without a
// live Cache.
type sweepDeps struct {
	root         string
	fileTTL      time.Duration
	bakMaxAge    time.Duration
	bakEnabled   bool
	warnAt       int
	now          func() time.Time
	spared       func(id string) bool // default assets + scene-gathered IDs
	onFileDeleted func(id string)
	logger       *slog.Logger
}

// walkResult tallies one directory walk's outcome, folded into the
// enclosing sweep's CleanupResult.
type walkResult struct {
	filesDeleted int
	baksDeleted  int
	dirsRemoved  int
	bytesFreed   int64
	errors       int
}

// walkShards implements §4.6 step 3: a recursive descent of every shard
// directory under root, deleting stale files and empty directories while
// sparing anything the spared predicate exempts. Grounded on this module's
// earlier backend/filesystem.go List method's filepath.WalkDir usage and
// store/gc/phases.go's per-entry skip/delete/tally shape.
func walkShards(ctx context.Context, deps sweepDeps, cancelled *atomic.Bool) walkResult {
	var result walkResult
	ops := 0
	nextYield := opsPerYieldMin + rand.Intn(opsPerYieldMax-opsPerYieldMin+1)

	entries, err := os.ReadDir(deps.root)
	if err != nil {
		if !os.IsNotExist(err) {
			deps.logger.Warn("cleanup: failed to list cache root", "root", deps.root, "error", err)
			result.errors++
		}
		return result
	}

	for _, e := range entries {
		if cancelled.Load() {
			return result
		}
		if !e.IsDir() {
			continue
		}
		walkDir(ctx, filepath.Join(deps.root, e.Name()), deps, cancelled, &result, &ops, &nextYield)
	}

	return result
}

// walkDir recursively descends one shard directory, deleting stale and
// eligible-for-deletion files and, bottom-up, removing directories left
// empty. It reports whether dir itself was removed, so its caller can
// count it as gone from its own remaining tally in the same pass.
func walkDir(ctx context.Context, dir string, deps sweepDeps, cancelled *atomic.Bool, result *walkResult, ops, nextYield *int) bool {
	if cancelled.Load() {
		return false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		deps.logger.Warn("cleanup: failed to list shard directory", "dir", dir, "error", err)
		result.errors++
		return false
	}

	if len(entries) > deps.warnAt {
		deps.logger.Warn("cleanup: shard directory exceeds warn threshold, consider deeper sharding",
			"dir", dir, "entries", len(entries), "warn_at", deps.warnAt)
	}

	remaining := len(entries)
	for _, e := range entries {
		if cancelled.Load() {
			return false
		}

		path := filepath.Join(dir, e.Name())

		if e.IsDir() {
			if walkDir(ctx, path, deps, cancelled, result, ops, nextYield) {
				remaining--
			}
			throttle(ops, nextYield)
			continue
		}

		deleted := processFile(path, e, deps, result)
		if deleted {
			remaining--
		}
		throttle(ops, nextYield)
	}

	if remaining > 0 {
		return false
	}
	if !isEmptyDir(dir) {
		return false
	}
	if err := os.Remove(dir); err != nil {
		if !os.IsNotExist(err) {
			deps.logger.Warn("cleanup: failed to remove empty shard directory", "dir", dir, "error", err)
			result.errors++
		}
		return false
	}
	result.dirsRemoved++
	return true
}

// processFile applies the per-file rules of §4.6 step 3 to one regular
// file, reporting whether it was deleted.
func processFile(path string, e os.DirEntry, deps sweepDeps, result *walkResult) bool {
	info, err := e.Info()
	if err != nil {
		deps.logger.Warn("cleanup: failed to stat file", "path", path, "error", err)
		result.errors++
		return false
	}

	name := e.Name()
	isBak := filepath.Ext(name) == ".bak"

	if isBak {
		if deps.bakEnabled && deps.now().Sub(info.ModTime()) > deps.bakMaxAge {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				deps.logger.Warn("cleanup: failed to delete stale backup", "path", path, "error", err)
				result.errors++
				return false
			}
			result.baksDeleted++
			result.bytesFreed += info.Size()
			return true
		}
		return false
	}

	id := name
	if deps.spared(id) {
		return false
	}

	if deps.now().Sub(info.ModTime()) < deps.fileTTL {
		return false
	}

	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			deps.logger.Warn("cleanup: failed to delete stale file", "path", path, "error", err)
			result.errors++
		}
		return false
	}
	result.filesDeleted++
	result.bytesFreed += info.Size()
	if deps.onFileDeleted != nil {
		deps.onFileDeleted(id)
	}
	return true
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

// throttle sleeps for a randomized interval every nextYield operations, to
// cap sustained I/O pressure per §4.6 step 4.
func throttle(ops, nextYield *int) {
	*ops++
	if *ops < *nextYield {
		return
	}
	*ops = 0
	*nextYield = opsPerYieldMin + rand.Intn(opsPerYieldMax-opsPerYieldMin+1)
	sleep := yieldSleepMin + time.Duration(rand.Int63n(int64(yieldSleepMax-yieldSleepMin+1)))
	time.Sleep(sleep)
}

