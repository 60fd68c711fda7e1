package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/google/uuid"
)

// fetchWithBackoff calls upstream.Fetch, retrying up to attempts times with
// exponential delay bounded by max, on any error the collaborator returns.
// An explicit absent answer is never retried — it is a definitive result,
// not a transport failure. Grounded on this module's earlier Downloader,
// which applied the same attempts/initial/max shape around its own
// transport call.
func fetchWithBackoff(ctx context.Context, upstream Upstream, id string, attempts int, initial, max time.Duration) (*assetcache.Asset, bool, error) {
	var lastErr error
	delay := initial

	for attempt := 0; attempt <= attempts; attempt++ {
		asset, present, err := upstream.Fetch(ctx, id)
		if err == nil {
			return asset, present, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(max)))
	}

	return nil, false, fmt.Errorf("%w: %v", assetcache.ErrUpstreamError, lastErr)
}

// newUUID assigns a fresh random UUID for store(asset).
func newUUID() uuid.UUID {
	return uuid.New()
}
