package assetcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsZeroValueDefaults(t *testing.T) {
	var c Config
	require.NoError(t, c.Normalize())

	def := DefaultConfig()
	require.Equal(t, def.MemoryTTL, c.MemoryTTL)
	require.Equal(t, def.NegativeTTL, c.NegativeTTL)
	require.Equal(t, def.Tiers, c.Tiers)
	require.Equal(t, def.TierLen, c.TierLen)
	require.NotNil(t, c.Logger)
}

func TestNormalizeResolvesCacheRootToAbsolute(t *testing.T) {
	c := Config{CacheRoot: "relative/path"}
	require.NoError(t, c.Normalize())
	require.True(t, filepath.IsAbs(c.CacheRoot))
}

func TestNormalizeClampsOutOfRangeValues(t *testing.T) {
	c := Config{
		Tiers:              10,
		TierLen:            10,
		BackoffAttempts:    99,
		BackoffInitial:     time.Hour,
		NegativeMaxEntries: 1,
		NegativePruneBatch: 1,
	}
	require.NoError(t, c.Normalize())

	require.LessOrEqual(t, c.Tiers, 3)
	require.LessOrEqual(t, c.TierLen, 4)
	require.LessOrEqual(t, c.BackoffAttempts, 10)
	require.LessOrEqual(t, c.BackoffInitial, 500*time.Millisecond)
	require.GreaterOrEqual(t, c.BackoffMax, c.BackoffInitial)
	require.GreaterOrEqual(t, c.NegativeMaxEntries, 1000)
	require.GreaterOrEqual(t, c.NegativePruneBatch, 100)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Normalize())
	first := c
	require.NoError(t, c.Normalize())
	require.Equal(t, first, c)
}
