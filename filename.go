package assetcache

import (
	"path/filepath"
	"strings"
)

// invalidPathChars mirrors the conservative union of characters disallowed
// by common filesystems (Windows reserved characters plus the path
// separators); any ID containing one is sanitized before it ever touches
// the filesystem.
const invalidPathChars = `<>:"/\|?*`

// sanitize replaces every invalid path/filename character with '_'.
func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r < 0x20 || strings.ContainsRune(invalidPathChars, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PathOf derives the on-disk path for id under root, sharded tiers deep by
// tierLen-character prefixes of the sanitized ID. Blank/whitespace IDs
// return "", false. Conceptually grounded on this module's earlier
// content-hash sharding (hash -> hex[:2]/hex); here the shard prefix comes
// from the sanitized ID itself rather than a digest, since assets are
// addressed by caller-supplied stable ID, not by content hash.
func PathOf(root string, id string, tiers, tierLen int) (string, bool) {
	if Blank(id) {
		return "", false
	}

	clean := sanitize(id)

	minLen := tiers * tierLen
	if len(clean) < minLen {
		clean += strings.Repeat("_", minLen-len(clean))
	}

	parts := make([]string, 0, tiers+1)
	for i := 0; i < tiers; i++ {
		start := i * tierLen
		parts = append(parts, clean[start:start+tierLen])
	}
	parts = append(parts, clean)

	return filepath.Join(root, filepath.Join(parts...)), true
}
