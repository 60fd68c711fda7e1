package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	at := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, at, at))
}

func baseDeps(root string) sweepDeps {
	return sweepDeps{
		root:       root,
		fileTTL:    time.Hour,
		bakMaxAge:  time.Hour,
		bakEnabled: true,
		warnAt:     1000,
		now:        time.Now,
		spared:     func(string) bool { return false },
		logger:     testLogger(),
	}
}

func TestWalkShardsDeletesStaleFiles(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "ab", "stale-id")
	fresh := filepath.Join(root, "ab", "fresh-id")
	writeAged(t, stale, 2*time.Hour)
	writeAged(t, fresh, time.Minute)

	var cancelled atomic.Bool
	result := walkShards(context.Background(), baseDeps(root), &cancelled)

	require.Equal(t, 1, result.filesDeleted)
	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}

func TestWalkShardsSparesExemptIDs(t *testing.T) {
	root := t.TempDir()
	spared := filepath.Join(root, "ab", "spared-id")
	writeAged(t, spared, 2*time.Hour)

	deps := baseDeps(root)
	deps.spared = func(id string) bool { return id == "spared-id" }

	var cancelled atomic.Bool
	result := walkShards(context.Background(), deps, &cancelled)

	require.Equal(t, 0, result.filesDeleted)
	_, err := os.Stat(spared)
	require.NoError(t, err)
}

func TestWalkShardsDeletesStaleBakSiblings(t *testing.T) {
	root := t.TempDir()
	bak := filepath.Join(root, "ab", "asset-id.bak")
	writeAged(t, bak, 2*time.Hour)

	var cancelled atomic.Bool
	result := walkShards(context.Background(), baseDeps(root), &cancelled)

	require.Equal(t, 1, result.baksDeleted)
	_, err := os.Stat(bak)
	require.True(t, os.IsNotExist(err))
}

func TestWalkShardsKeepsFreshBakSiblings(t *testing.T) {
	root := t.TempDir()
	bak := filepath.Join(root, "ab", "asset-id.bak")
	writeAged(t, bak, time.Minute)

	var cancelled atomic.Bool
	result := walkShards(context.Background(), baseDeps(root), &cancelled)

	require.Equal(t, 0, result.baksDeleted)
	_, err := os.Stat(bak)
	require.NoError(t, err)
}

func TestWalkShardsRemovesEmptyDirectories(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "ab", "cd", "stale-id")
	writeAged(t, stale, 2*time.Hour)

	var cancelled atomic.Bool
	walkShards(context.Background(), baseDeps(root), &cancelled)

	_, err := os.Stat(filepath.Join(root, "ab", "cd"))
	require.True(t, os.IsNotExist(err))
}

func TestWalkShardsStopsWhenCancelled(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "ab", "stale-id")
	writeAged(t, stale, 2*time.Hour)

	var cancelled atomic.Bool
	cancelled.Store(true)

	result := walkShards(context.Background(), baseDeps(root), &cancelled)
	require.Equal(t, 0, result.filesDeleted)
	_, err := os.Stat(stale)
	require.NoError(t, err)
}

func TestWalkShardsCallsOnFileDeleted(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "ab", "stale-id")
	writeAged(t, stale, 2*time.Hour)

	deps := baseDeps(root)
	var deletedID string
	deps.onFileDeleted = func(id string) { deletedID = id }

	var cancelled atomic.Bool
	walkShards(context.Background(), deps, &cancelled)

	require.Equal(t, "stale-id", deletedID)
}

func TestWalkShardsMissingRootIsNotAnError(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")

	var cancelled atomic.Bool
	result := walkShards(context.Background(), baseDeps(root), &cancelled)
	require.Equal(t, 0, result.errors)
}
