package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorFetchCallsFnOnce(t *testing.T) {
	c := newCoordinator(slog.Default())

	var calls atomic.Int32
	fn := func(ctx context.Context) (*assetcache.Asset, bool, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &assetcache.Asset{ID: "a1"}, true, nil
	}

	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Fetch(context.Background(), "a1", fn)
			require.NoError(t, err)
			require.False(t, res.absent)
			require.Equal(t, "a1", res.asset.ID)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.GreaterOrEqual(t, c.InflightJoins(), int64(n-1))
}

func TestCoordinatorFetchCountsExactlyOneJoinForOneFollower(t *testing.T) {
	c := newCoordinator(slog.Default())

	started := make(chan struct{})
	proceed := make(chan struct{})
	fn := func(ctx context.Context) (*assetcache.Asset, bool, error) {
		close(started)
		<-proceed
		return &assetcache.Asset{ID: "a1"}, true, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = c.Fetch(context.Background(), "a1", fn)
	}()
	<-started // the leader's fn is now running and registered as the sole in-flight call

	go func() {
		defer wg.Done()
		_, _ = c.Fetch(context.Background(), "a1", fn)
	}()
	require.Eventually(t, func() bool { return c.InflightJoins() == 1 }, time.Second, time.Millisecond)

	close(proceed)
	wg.Wait()

	// Exactly one follower joined; the leader itself must never be counted.
	require.Equal(t, int64(1), c.InflightJoins())
}

func TestCoordinatorFetchReturnsAbsent(t *testing.T) {
	c := newCoordinator(slog.Default())
	fn := func(ctx context.Context) (*assetcache.Asset, bool, error) {
		return nil, false, nil
	}

	res, err := c.Fetch(context.Background(), "missing", fn)
	require.NoError(t, err)
	require.True(t, res.absent)
}

func TestCoordinatorForgetAllowsFreshEvaluation(t *testing.T) {
	c := newCoordinator(slog.Default())

	var calls atomic.Int32
	fn := func(ctx context.Context) (*assetcache.Asset, bool, error) {
		calls.Add(1)
		return &assetcache.Asset{ID: "a1"}, true, nil
	}

	_, err := c.Fetch(context.Background(), "a1", fn)
	require.NoError(t, err)

	c.Forget("a1")

	_, err = c.Fetch(context.Background(), "a1", fn)
	require.NoError(t, err)

	require.Equal(t, int32(2), calls.Load())
}
