package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanupSchedulerRunNowInvokesRunImmediately(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context, cancelled *atomic.Bool) CleanupResult {
		calls.Add(1)
		return CleanupResult{FilesDeleted: 7}
	}

	s := newCleanupScheduler(time.Hour, run)
	result := s.RunNow(context.Background())

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 7, result.FilesDeleted)
}

func TestCleanupSchedulerStartRunsOnTicker(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context, cancelled *atomic.Bool) CleanupResult {
		calls.Add(1)
		return CleanupResult{}
	}

	s := newCleanupScheduler(10*time.Millisecond, run)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestCleanupSchedulerStopIsIdempotent(t *testing.T) {
	run := func(ctx context.Context, cancelled *atomic.Bool) CleanupResult {
		return CleanupResult{}
	}

	s := newCleanupScheduler(time.Hour, run)
	s.Start(context.Background())
	s.Stop()
	s.Stop() // must not panic or block
}

func TestCleanupSchedulerStopWaitsForRunningSweep(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, cancelled *atomic.Bool) CleanupResult {
		close(started)
		for !cancelled.Load() {
			time.Sleep(time.Millisecond)
		}
		return CleanupResult{}
	}

	s := newCleanupScheduler(5*time.Millisecond, run)
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("sweep never started")
	}

	s.Stop() // should return only after the sweep observes cancellation
}
