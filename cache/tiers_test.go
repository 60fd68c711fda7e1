package cache

import (
	"testing"
	"time"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/stretchr/testify/require"
)

func TestWeakTierPutGetRemove(t *testing.T) {
	w := newWeakTier()
	a := &assetcache.Asset{ID: "a1"}

	_, ok := w.get("a1")
	require.False(t, ok)

	w.put(a)
	got, ok := w.get("a1")
	require.True(t, ok)
	require.Same(t, a, got)

	w.remove("a1")
	_, ok = w.get("a1")
	require.False(t, ok)
}

func TestWeakTierResetDropsEverything(t *testing.T) {
	w := newWeakTier()
	w.put(&assetcache.Asset{ID: "a1"})
	w.put(&assetcache.Asset{ID: "a2"})

	w.reset()

	_, ok := w.get("a1")
	require.False(t, ok)
	_, ok = w.get("a2")
	require.False(t, ok)
}

func TestWeakTierSampleAndCountLive(t *testing.T) {
	w := newWeakTier()
	a1 := &assetcache.Asset{ID: "a1"}
	a2 := &assetcache.Asset{ID: "a2"}
	w.put(a1)
	w.put(a2)

	sample := w.sample(10)
	require.Len(t, sample, 2)

	live := w.countLive(sample)
	require.Equal(t, 2, live)
}

func TestMemoryTierExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m := newMemoryTier(time.Minute, clock)

	a := &assetcache.Asset{ID: "a1"}
	m.put(a)

	got, ok := m.get("a1")
	require.True(t, ok)
	require.Same(t, a, got)

	now = now.Add(2 * time.Minute)
	_, ok = m.get("a1")
	require.False(t, ok)
}

func TestMemoryTierClear(t *testing.T) {
	m := newMemoryTier(time.Minute, time.Now)
	m.put(&assetcache.Asset{ID: "a1"})
	m.clear()

	_, ok := m.get("a1")
	require.False(t, ok)
}

func TestNegativeTierHasExpiresAndCanBeRemoved(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	n := newNegativeTier(1000, 100, clock)

	require.False(t, n.has("missing-1"))

	n.put("missing-1", time.Minute)
	require.True(t, n.has("missing-1"))

	now = now.Add(2 * time.Minute)
	require.False(t, n.has("missing-1"))
}

func TestNegativeTierRemoveAndClear(t *testing.T) {
	n := newNegativeTier(1000, 100, time.Now)
	n.put("missing-1", time.Minute)
	n.remove("missing-1")
	require.False(t, n.has("missing-1"))

	n.put("missing-2", time.Minute)
	n.clear()
	require.Equal(t, 0, n.size())
}

func TestNegativeTierSweepExpiredOnlyRemovesPast(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	n := newNegativeTier(1000, 100, clock)

	n.put("expired", -time.Second) // already in the past relative to now
	n.put("still-live", time.Hour)

	removed := n.sweepExpired()
	require.Equal(t, 1, removed)
	require.False(t, n.has("expired"))
	require.True(t, n.has("still-live"))
}

func TestNegativeTierPruneDropsOldestBatchWhenOverCapacity(t *testing.T) {
	n := newNegativeTier(5, 2, time.Now)
	// Populate entries directly, bypassing put's own auto-prune-on-insert
	// behavior, so this test isolates prune's own batch-size semantics.
	now := time.Now()
	for i := 0; i < 10; i++ {
		n.entries[string(rune('a'+i))] = now.Add(time.Duration(i+1) * time.Minute)
	}

	pruned := n.prune()
	require.Equal(t, 2, pruned)
	require.Equal(t, 8, n.size())
}

func TestNegativeTierPruneNoopUnderCapacity(t *testing.T) {
	n := newNegativeTier(1000, 100, time.Now)
	n.put("a", time.Minute)

	require.Equal(t, 0, n.prune())
}
