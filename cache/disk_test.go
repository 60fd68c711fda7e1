package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/jamenai/opensim-assetcache/writer"
	"github.com/stretchr/testify/require"
)

func newTestDiskTier(t *testing.T) *diskTier {
	t.Helper()
	root := t.TempDir()
	pool := writer.New(1)
	t.Cleanup(pool.Stop)
	return newDiskTier(root, 1, 2, 256*1024, 64*1024*1024, true, pool, testLogger())
}

func TestDiskTierPutThenGetRoundTrips(t *testing.T) {
	d := newTestDiskTier(t)
	a := &assetcache.Asset{ID: "texture-1", Name: "tex", Data: []byte("bytes")}

	d.put(a, false)
	waitForFile(t, d, "texture-1")

	got, ok := d.get("texture-1")
	require.True(t, ok)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.Data, got.Data)
}

func TestDiskTierGetMissReturnsFalse(t *testing.T) {
	d := newTestDiskTier(t)
	_, ok := d.get("never-written")
	require.False(t, ok)
}

func TestDiskTierCorruptedFileSelfHeals(t *testing.T) {
	d := newTestDiskTier(t)
	path, ok := d.pathFor("bad-1")
	require.True(t, ok)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not a valid asset record"), 0o644))

	_, ok = d.get("bad-1")
	require.False(t, ok)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestDiskTierRemoveDeletesFile(t *testing.T) {
	d := newTestDiskTier(t)
	a := &assetcache.Asset{ID: "texture-1", Data: []byte("x")}
	d.put(a, false)
	waitForFile(t, d, "texture-1")

	d.remove("texture-1")
	_, ok := d.get("texture-1")
	require.False(t, ok)
}

func TestDiskTierClearRemovesShardDirectories(t *testing.T) {
	d := newTestDiskTier(t)
	d.put(&assetcache.Asset{ID: "texture-1", Data: []byte("x")}, false)
	waitForFile(t, d, "texture-1")

	d.clear()

	entries, err := os.ReadDir(d.root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func waitForFile(t *testing.T, d *diskTier, id string) {
	t.Helper()
	path, ok := d.pathFor(id)
	require.True(t, ok)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to be written", path)
}
