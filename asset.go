// Package assetcache implements a concurrent, multi-layer cache for
// immutable, content-addressed binary assets sitting in front of an
// upstream asset service. Requests cascade through a weak in-process
// reference map, an expiring in-memory map, a tier-sharded on-disk store,
// and a bounded negative-lookup map.
package assetcache

import (
	"strings"

	"github.com/google/uuid"
)

// Asset is an immutable, content-addressed binary blob plus metadata,
// identified by a stable string ID. Once inserted into the cache an Asset
// is never mutated in place; updates replace the stored value wholesale.
type Asset struct {
	ID          string
	UUID        uuid.UUID
	Name        string
	Description string
	Type        int8
	Flags       uint32
	Data        []byte
	Local       bool
	Temporary   bool
}

// zeroUUIDString is the all-zero UUID rendered as text; asset lookups and
// stores reject it the same way they reject a blank ID.
const zeroUUIDString = "00000000-0000-0000-0000-000000000000"

// Blank reports whether id is empty or made of nothing but whitespace, or
// is textually the all-zero UUID — both are rejected before any tier is
// consulted.
func Blank(id string) bool {
	trimmed := strings.TrimSpace(id)
	return trimmed == "" || trimmed == zeroUUIDString
}
