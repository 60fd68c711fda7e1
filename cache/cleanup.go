package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CleanupResult tallies one sweep's outcome, the figures the status verb
// and the cleanup duration/bytes-freed metrics report.
type CleanupResult struct {
	NegativesExpired int
	NegativesPruned  int
	FilesDeleted     int
	BaksDeleted      int
	DirsRemoved      int
	BytesFreed       int64
	Errors           int
	Duration         time.Duration
}

// cleanupScheduler runs the background sweep on a periodic timer,
// single-run-at-a-time, cooperatively cancellable mid-walk. Grounded on
// this module's earlier expiry Manager: the same Start/Stop/run/ticker
// shape, generalized from a single TTL+LRU pass into the five-step sweep
// runCleanup in lifecycle.go implements.
type cleanupScheduler struct {
	period time.Duration
	run    func(ctx context.Context, cancelled *atomic.Bool) CleanupResult

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	cancelled atomic.Bool
}

func newCleanupScheduler(period time.Duration, run func(ctx context.Context, cancelled *atomic.Bool) CleanupResult) *cleanupScheduler {
	return &cleanupScheduler{period: period, run: run}
}

// Start spawns the background ticker loop if it is not already running.
func (s *cleanupScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for the current sweep, if any,
// to observe the cancellation flag and return.
func (s *cleanupScheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	s.cancelled.Store(true)
	close(stopCh)
	<-doneCh
}

// Stopped reports whether Stop has been called. A stopped scheduler never
// resumes its ticker loop; callers that own one across a stop/restart
// lifecycle use this to decide whether to keep it or construct a
// replacement.
func (s *cleanupScheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *cleanupScheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.cancelled.Load() {
				return
			}
			s.run(ctx, &s.cancelled)
		}
	}
}

// RunNow performs a single sweep off the timer path, for the
// expire-at-date control-surface verb (§4.7).
func (s *cleanupScheduler) RunNow(ctx context.Context) CleanupResult {
	var cancelled atomic.Bool
	return s.run(ctx, &cancelled)
}
