package cache

import (
	"context"

	assetcache "github.com/jamenai/opensim-assetcache"
)

// Upstream is the only upstream surface this cache consumes: a single
// fetch-by-ID call. Implementations must be side-effect-free on miss.
// Grounded on this module's earlier Downloader dependency, narrowed from a
// full blob-fetch-with-progress interface down to the one operation this
// cache's coordinator actually drives.
type Upstream interface {
	Fetch(ctx context.Context, id string) (*assetcache.Asset, bool, error)
}

// SelfReferential reports whether up is this cache wearing its own
// Upstream hat — the self-loop guard required before a coordinator token
// is ever created.
type SelfReferential interface {
	IsSelf(up Upstream) bool
}

// Scene is a region/scene collaborator the cache consults during deep-touch
// and cleanup sparing. Every method returns the set of asset UUIDs, as
// strings, that scene currently references; implementations recurse into
// object groups and skip child agents/default avatar textures themselves.
type Scene interface {
	ID() string
	TerrainTextureIDs() []string
	EnvironmentAssetIDs() []string
	ParcelEnvironmentAssetIDs() []string
	ObjectAssetIDs() []string
	AvatarBakeTextureIDs() []string
}

// DefaultAssetsLoader enumerates a named set of built-in assets whose IDs
// become a sticky cleanup-exempt allowlist, until explicitly cleared by the
// delete-default-assets control-surface verb.
type DefaultAssetsLoader interface {
	LoadDefaultAssetIDs(ctx context.Context, set string) ([]string, error)
}

// gatherSceneIDs collects every UUID every attached scene currently
// references, per §4.6 step 2.
func gatherSceneIDs(scenes []Scene) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, s := range scenes {
		for _, group := range [][]string{
			s.TerrainTextureIDs(),
			s.EnvironmentAssetIDs(),
			s.ParcelEnvironmentAssetIDs(),
			s.ObjectAssetIDs(),
			s.AvatarBakeTextureIDs(),
		} {
			for _, id := range group {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}
