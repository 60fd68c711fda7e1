package assetcache

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeReplacesInvalidChars(t *testing.T) {
	require.Equal(t, "a_b_c", sanitize("a/b\\c"))
	require.Equal(t, "a_b", sanitize("a<b"))
	require.Equal(t, "plain-id", sanitize("plain-id"))
}

func TestPathOfRejectsBlank(t *testing.T) {
	_, ok := PathOf("/root", "", 1, 3)
	require.False(t, ok)

	_, ok = PathOf("/root", "   ", 1, 3)
	require.False(t, ok)
}

func TestPathOfShardsByPrefix(t *testing.T) {
	path, ok := PathOf("/root", "abcdef", 2, 2)
	require.True(t, ok)
	require.Equal(t, filepath.Join("/root", "ab", "cd", "abcdef"), path)
}

func TestPathOfPadsShortIDs(t *testing.T) {
	path, ok := PathOf("/root", "ab", 1, 3)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(path, filepath.Join("/root", "ab_")))
	require.True(t, strings.HasSuffix(path, "ab_"))
}

func TestPathOfSanitizesBeforeSharding(t *testing.T) {
	path, ok := PathOf("/root", "a/b", 1, 1)
	require.True(t, ok)
	require.Equal(t, filepath.Join("/root", "a", "a_b"), path)
}
