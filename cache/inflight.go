package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/jamenai/opensim-assetcache/telemetry"
	"golang.org/x/sync/singleflight"
)

// fetchResult is what a successful single-flight evaluation produces:
// either a present asset or an absent answer. An upstream error is
// returned beside it instead.
type fetchResult struct {
	asset  *assetcache.Asset
	absent bool
}

// coordinator collapses concurrent misses for the same ID into one
// upstream call. Grounded directly on this module's earlier Downloader:
// the same singleflight.Group/DoChan/context.WithoutCancel shape, so that
// one caller's cancellation never aborts an in-flight fetch other callers
// are waiting on.
type coordinator struct {
	group  singleflight.Group
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	inflightJoins atomic.Int64
}

func newCoordinator(logger *slog.Logger) *coordinator {
	return &coordinator{logger: logger, inFlight: make(map[string]struct{})}
}

// Fetch runs fn (the upstream call) at most once per concurrently-pending
// id. Every caller that finds an evaluation already running is counted in
// inflightJoins, the metric the status command reports.
//
// singleflight.Group.DoChan's own Result.Shared flag is not used for this:
// it is broadcast to every waiter sharing a call, including the leader
// that created it, whenever at least one follower joined — so trusting it
// uniformly would count the leader as a joiner too. Leadership is instead
// tracked explicitly: the caller that finds id absent from inFlight is the
// leader and registers it; every other concurrent caller for the same id
// observes it already present and is the follower the metric counts.
func (c *coordinator) Fetch(ctx context.Context, id string, fn func(ctx context.Context) (*assetcache.Asset, bool, error)) (*fetchResult, error) {
	c.mu.Lock()
	_, isFollower := c.inFlight[id]
	if !isFollower {
		c.inFlight[id] = struct{}{}
	}
	c.mu.Unlock()

	ch := c.group.DoChan(id, func() (any, error) {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, id)
			c.mu.Unlock()
		}()
		asset, present, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return &fetchResult{asset: asset, absent: !present}, nil
	})

	if isFollower {
		c.inflightJoins.Add(1)
		telemetry.RecordInflightJoin(ctx)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetchResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InflightJoins returns the number of followers that joined an
// already-running fetch instead of issuing their own.
func (c *coordinator) InflightJoins() int64 {
	return c.inflightJoins.Load()
}

// Forget removes id from the group, so the next miss starts a fresh
// evaluation instead of joining a call for id that is still in flight.
func (c *coordinator) Forget(id string) {
	c.group.Forget(id)
}
