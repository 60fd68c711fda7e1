package cache

import (
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"time"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/jamenai/opensim-assetcache/writer"
)

// reservationWaitMin/Max bound the brief sleep a reader performs when it
// observes its target path reserved for writing, per §4.4: long enough to
// let a fast write finish, short enough to not meaningfully delay a
// spurious-miss fallback to upstream.
const (
	reservationWaitMin = 5 * time.Millisecond
	reservationWaitMax = 10 * time.Millisecond
)

// diskTier is the on-disk map: reads go straight to the filesystem through
// the codec, writes are handed to the writer pool. Grounded on this
// module's earlier CAFS store, which layered hashing and metadata tracking
// over a Backend; here there is no backend abstraction or content hash —
// assets are addressed by caller-supplied ID, and persistence is a single
// local filesystem rooted at cacheRoot.
type diskTier struct {
	root           string
	tiers, tierLen int
	maxStringBytes int
	maxDataBytes   int
	bakKeep        bool

	pool   *writer.Pool
	logger *slog.Logger
}

func newDiskTier(root string, tiers, tierLen, maxStringBytes, maxDataBytes int, bakKeep bool, pool *writer.Pool, logger *slog.Logger) *diskTier {
	return &diskTier{
		root:           root,
		tiers:          tiers,
		tierLen:        tierLen,
		maxStringBytes: maxStringBytes,
		maxDataBytes:   maxDataBytes,
		bakKeep:        bakKeep,
		pool:           pool,
		logger:         logger,
	}
}

func (d *diskTier) pathFor(id string) (string, bool) {
	return assetcache.PathOf(d.root, id, d.tiers, d.tierLen)
}

// get reads and decodes the asset at path_of(id). A reservation in
// progress for the path is waited out briefly (§4.4) before falling back
// to a miss; an empty file is a miss, not BadFormat; a BadFormat file is
// best-effort deleted so the caller can repopulate from upstream.
func (d *diskTier) get(id string) (*assetcache.Asset, bool) {
	path, ok := d.pathFor(id)
	if !ok {
		return nil, false
	}

	if d.pool.Reserved(path) {
		wait := reservationWaitMin + time.Duration(rand.Int63n(int64(reservationWaitMax-reservationWaitMin+1)))
		time.Sleep(wait)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("disk tier read failed", "path", path, "error", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	asset, err := assetcache.DecodeAsset(data, d.maxStringBytes, d.maxDataBytes)
	if err != nil {
		d.logger.Warn("corrupted asset file, deleting", "path", path, "error", err)
		_ = os.Remove(path)
		return nil, false
	}
	return asset, true
}

func (d *diskTier) check(id string) bool {
	path, ok := d.pathFor(id)
	if !ok {
		return false
	}
	if d.pool.Reserved(path) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// put enqueues a write job for asset; it never blocks on I/O, only on the
// bounded submission queue.
func (d *diskTier) put(asset *assetcache.Asset, replace bool) {
	path, ok := d.pathFor(asset.ID)
	if !ok {
		return
	}
	bytes := assetcache.EncodeAsset(asset)
	if err := d.pool.Submit(writer.Job{
		Path:    path,
		Bytes:   bytes,
		Replace: replace,
		BakKeep: d.bakKeep && replace,
	}); err != nil {
		d.logger.Debug("write submission dropped", "path", path, "error", err)
	}
}

// remove best-effort deletes the on-disk file for id. A write still
// reserved for the path is waited out first (for at most a second), so a
// queued job does not recreate the file right after it is deleted.
func (d *diskTier) remove(id string) {
	path, ok := d.pathFor(id)
	if !ok {
		return
	}
	deadline := time.Now().Add(time.Second)
	for d.pool.Reserved(path) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("disk tier delete failed", "path", path, "error", err)
	}
}

// clear drops every shard directory under root.
func (d *diskTier) clear() {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("disk tier clear failed to list root", "error", err)
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(d.root + string(os.PathSeparator) + e.Name()); err != nil {
			d.logger.Warn("disk tier clear failed to remove shard", "dir", e.Name(), "error", err)
		}
	}
}
