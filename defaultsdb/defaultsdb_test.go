package defaultsdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defaults.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddAndHas(t *testing.T) {
	db := openTest(t)

	require.False(t, db.Has("texture-1"))

	require.NoError(t, db.Add([]string{"texture-1", "texture-2"}))

	require.True(t, db.Has("texture-1"))
	require.True(t, db.Has("texture-2"))
	require.False(t, db.Has("texture-3"))
	require.Equal(t, 2, db.Count())
}

func TestAllReturnsEveryEntry(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Add([]string{"a", "b", "c"}))

	ids, err := db.All()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestClearEmptiesAllowlist(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Add([]string{"a", "b"}))
	require.Equal(t, 2, db.Count())

	require.NoError(t, db.Clear())

	require.Equal(t, 0, db.Count())
	require.False(t, db.Has("a"))
}

func TestReopenPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.db")

	db1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db1.Add([]string{"sticky-1"}))
	require.NoError(t, db1.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	require.True(t, db2.Has("sticky-1"))
}
