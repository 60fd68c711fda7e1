package assetcache

import (
	"log/slog"
	"path/filepath"
	"time"
)

// Config collects every tunable named in the configuration table: tier
// enablement, TTLs, codec caps, sharding, backoff, and writer-pool sizing.
// Zero-value numeric, duration and string fields are replaced by their
// documented default in Normalize; boolean fields are kept as given.
// Out-of-range fields are clamped rather than rejected, the same
// forgiving-defaults posture the rest of this module's ancestry takes for
// its own Config structs.
type Config struct {
	// FileCacheEnabled enables the on-disk tier and its writer workers.
	FileCacheEnabled bool
	// CacheRoot is resolved to an absolute path on New.
	CacheRoot string

	// MemoryCacheEnabled enables the expiring in-memory tier.
	MemoryCacheEnabled bool
	// MemoryTTL is how long a memory tier entry survives since insertion.
	MemoryTTL time.Duration

	// NegativeCacheEnabled enables the bounded negative-lookup map.
	NegativeCacheEnabled bool
	// NegativeTTL is how long a negative entry suppresses upstream fetches.
	NegativeTTL time.Duration

	// UpdateFileTimeOnCacheHit enables debounced last-access touch on hits.
	UpdateFileTimeOnCacheHit bool
	// AccessTouchDebounce bounds how often a single path's last-access
	// time may be updated; defaults to 15 minutes.
	AccessTouchDebounce time.Duration

	// FileTTL: files whose last-access predates now-FileTTL are purge
	// candidates for the next cleanup sweep.
	FileTTL time.Duration
	// CleanupPeriod is the interval of the background cleanup timer.
	CleanupPeriod time.Duration

	// Tiers and TierLen control shard-directory depth and prefix length.
	Tiers   int
	TierLen int

	// CacheWarnAt is the per-directory entry count above which cleanup
	// logs an operator warning.
	CacheWarnAt int

	// NegativeMaxEntries / NegativePruneBatch bound the negative map.
	NegativeMaxEntries int
	NegativePruneBatch int

	// MaxStringBytes / MaxDataBytes cap codec field widths.
	MaxStringBytes int
	MaxDataBytes   int

	// BackoffAttempts / BackoffInitial / BackoffMax bound upstream retry.
	BackoffAttempts int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration

	// BakCleanupEnabled / BakMaxAge control stale .bak sibling removal.
	BakCleanupEnabled bool
	BakMaxAge         time.Duration

	// WriterWorkers sizes the write-pipeline worker pool.
	WriterWorkers int

	// HitRateDisplay is the request-count cadence at which a hit-rate
	// summary is logged.
	HitRateDisplay int
	// HitReportWeakSampleTarget bounds how many weak entries the status
	// report samples to approximate live-entry count.
	HitReportWeakSampleTarget int

	// Logger receives every diagnostic and warning the cache emits. If nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration table's documented defaults.
func DefaultConfig() Config {
	return Config{
		FileCacheEnabled:          true,
		CacheRoot:                 "c_assetcache",
		MemoryCacheEnabled:        false,
		MemoryTTL:                 time.Duration(0.016 * float64(time.Hour)),
		NegativeCacheEnabled:      true,
		NegativeTTL:               120 * time.Second,
		UpdateFileTimeOnCacheHit:  false,
		AccessTouchDebounce:       15 * time.Minute,
		FileTTL:                   48 * time.Hour,
		CleanupPeriod:             time.Hour,
		Tiers:                     1,
		TierLen:                   3,
		CacheWarnAt:               30000,
		NegativeMaxEntries:        100000,
		NegativePruneBatch:        5000,
		MaxStringBytes:            256 * 1024,
		MaxDataBytes:              64 * 1024 * 1024,
		BackoffAttempts:           3,
		BackoffInitial:            5 * time.Millisecond,
		BackoffMax:                40 * time.Millisecond,
		BakCleanupEnabled:         true,
		BakMaxAge:                 24 * time.Hour,
		WriterWorkers:             1,
		HitRateDisplay:            100,
		HitReportWeakSampleTarget: 2000,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize fills in defaults for zero-value fields and clamps every bound
// from §6 of the configuration table. It is idempotent and safe to call on
// a partially-populated Config.
func (c *Config) Normalize() error {
	def := DefaultConfig()

	if c.CacheRoot == "" {
		c.CacheRoot = def.CacheRoot
	}
	abs, err := filepath.Abs(c.CacheRoot)
	if err != nil {
		return err
	}
	c.CacheRoot = abs

	if c.MemoryTTL <= 0 {
		c.MemoryTTL = def.MemoryTTL
	}
	if c.NegativeTTL <= 0 {
		c.NegativeTTL = def.NegativeTTL
	}
	if c.AccessTouchDebounce <= 0 {
		c.AccessTouchDebounce = def.AccessTouchDebounce
	}
	if c.FileTTL <= 0 {
		c.FileTTL = def.FileTTL
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = def.CleanupPeriod
	}

	if c.Tiers == 0 {
		c.Tiers = def.Tiers
	}
	c.Tiers = clampInt(c.Tiers, 1, 3)

	if c.TierLen == 0 {
		c.TierLen = def.TierLen
	}
	c.TierLen = clampInt(c.TierLen, 1, 4)

	if c.CacheWarnAt <= 0 {
		c.CacheWarnAt = def.CacheWarnAt
	}

	if c.NegativeMaxEntries <= 0 {
		c.NegativeMaxEntries = def.NegativeMaxEntries
	}
	c.NegativeMaxEntries = max(c.NegativeMaxEntries, 1000)

	if c.NegativePruneBatch <= 0 {
		c.NegativePruneBatch = def.NegativePruneBatch
	}
	c.NegativePruneBatch = max(c.NegativePruneBatch, 100)

	if c.MaxStringBytes <= 0 {
		c.MaxStringBytes = def.MaxStringBytes
	}
	c.MaxStringBytes = clampInt(c.MaxStringBytes, 32*1024, 2*1024*1024)

	if c.MaxDataBytes <= 0 {
		c.MaxDataBytes = def.MaxDataBytes
	}
	c.MaxDataBytes = clampInt(c.MaxDataBytes, 8*1024*1024, 512*1024*1024)

	if c.BackoffAttempts == 0 {
		c.BackoffAttempts = def.BackoffAttempts
	}
	c.BackoffAttempts = clampInt(c.BackoffAttempts, 0, 10)

	if c.BackoffInitial <= 0 {
		c.BackoffInitial = def.BackoffInitial
	}
	c.BackoffInitial = clampDuration(c.BackoffInitial, 0, 500*time.Millisecond)

	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	c.BackoffMax = clampDuration(c.BackoffMax, c.BackoffInitial, 2000*time.Millisecond)

	if c.BakMaxAge <= 0 {
		c.BakMaxAge = def.BakMaxAge
	}
	c.BakMaxAge = clampDuration(c.BakMaxAge, time.Hour, 168*time.Hour)

	if c.WriterWorkers == 0 {
		c.WriterWorkers = def.WriterWorkers
	}
	c.WriterWorkers = clampInt(c.WriterWorkers, 1, 4)

	if c.HitRateDisplay <= 0 {
		c.HitRateDisplay = def.HitRateDisplay
	}

	if c.HitReportWeakSampleTarget <= 0 {
		c.HitReportWeakSampleTarget = def.HitReportWeakSampleTarget
	}
	c.HitReportWeakSampleTarget = max(c.HitReportWeakSampleTarget, 100)

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
