// Package writer implements the asset cache's write pipeline: a bounded
// queue feeding a small pool of worker goroutines that persist assets to
// disk with atomic replace semantics and an in-progress reservation set
// that caps concurrent writers per path at one.
//
// Grounded on this module's earlier Filesystem backend, which wrote
// through a temp-file-then-rename atomicWriter; that single-shot pattern
// is generalized here into a queued job consumed by a fixed worker pool,
// the same producer/consumer shape this module's expiry and GC managers
// use for their own background loops.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jamenai/opensim-assetcache/telemetry"
)

// queueCapacity bounds the submission queue; callers that find it full
// (extremely unlikely at writer_workers <= 4) block briefly on enqueue.
const queueCapacity = 1000

// Job is a single unit of work: persist asset bytes to path, optionally
// replacing an existing file and retaining a .bak sibling.
type Job struct {
	Path    string
	Bytes   []byte
	Replace bool
	BakKeep bool

	// Done, if non-nil, is closed after the job completes (success or
	// failure) so a caller that needs to block for durability can wait on
	// it without inventing a second notification channel.
	Done chan struct{}
}

// Pool is a fixed-size pool of writer workers draining a bounded job
// queue, with a path-keyed in-progress reservation set enforcing the
// invariant that at most one worker ever holds a given path at a time.
type Pool struct {
	logger *slog.Logger

	jobs chan Job

	mu         sync.Mutex
	inProgress map[string]struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New creates a Pool with the given number of worker goroutines and
// starts them immediately. workers is expected to already be clamped to
// [1,4] by the caller's Config.Normalize.
func New(workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		logger:     slog.Default(),
		jobs:       make(chan Job, queueCapacity),
		inProgress: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// Stop closes the job queue; every worker runs the jobs already queued and
// then exits, and Stop waits for them to finish. It does not attempt to
// cancel jobs already running.
// A stopped Pool never resumes accepting work; callers that need the
// write pipeline to run again (e.g. a scene re-attaching after the last
// one detached) must construct a fresh Pool instead of reusing this one.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
		close(p.jobs)
	})
	p.wg.Wait()
}

// Stopped reports whether Stop has been called. Callers that own a Pool
// across a stop/restart lifecycle use this to decide whether to keep the
// existing instance or construct a replacement.
func (p *Pool) Stopped() bool {
	return p.stopped.Load()
}

// Reserved reports whether path currently has an in-progress writer
// reservation, the signal readers use to briefly wait out a concurrent
// write before treating the file as missing.
func (p *Pool) Reserved(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inProgress[path]
	return ok
}

// Submit attempts to reserve path and enqueue a write job for it. If path
// is already reserved the submission is dropped silently (ErrContention)
// per §4.3: the existing job will persist an equivalent or newer version.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if _, held := p.inProgress[job.Path]; held {
		p.mu.Unlock()
		return ErrContention
	}
	p.inProgress[job.Path] = struct{}{}
	depth := len(p.jobs) + 1
	p.mu.Unlock()

	telemetry.RecordWriterQueueDepth(context.Background(), depth)

	select {
	case p.jobs <- job:
		return nil
	case <-p.stopCh:
		p.release(job.Path)
		return errors.New("writer: pool stopped")
	}
}

func (p *Pool) release(path string) {
	p.mu.Lock()
	delete(p.inProgress, path)
	p.mu.Unlock()
}

// ErrContention is returned by Submit when path is already reserved by an
// in-flight job.
var ErrContention = errors.New("writer: path already reserved")

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
	}
}

func (p *Pool) process(job Job) {
	defer p.release(job.Path)
	if job.Done != nil {
		defer close(job.Done)
	}

	err := p.writeOne(job)
	telemetry.RecordWriterJob(context.Background(), err == nil)
	if err != nil {
		p.logger.Warn("writer job failed", "path", job.Path, "error", err)
	}
}

// writeOne implements the five-step worker algorithm from §4.3: ensure the
// shard directory exists, write to a sibling temp file, flush, commit by
// atomic replace or rename, and best-effort clean up the temp file on any
// failure.
func (p *Pool) writeOne(job Job) error {
	dir := filepath.Dir(job.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating shard directory: %v", ErrIoTransient, err)
	}

	if !job.Replace {
		if _, err := os.Stat(job.Path); err == nil {
			return nil // fast-path: target exists, replace=false, nothing to do.
		}
	}

	tmp, err := os.CreateTemp(dir, ".assetcache-tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrIoTransient, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(job.Bytes); err != nil {
		return fmt.Errorf("%w: writing temp file: %v", ErrIoTransient, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing temp file: %v", ErrIoTransient, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", ErrIoTransient, err)
	}

	if job.Replace && job.BakKeep {
		if _, err := os.Stat(job.Path); err == nil {
			bakPath := job.Path + ".bak"
			_ = os.Remove(bakPath)
			if err := os.Rename(job.Path, bakPath); err != nil {
				return fmt.Errorf("%w: backing up previous version: %v", ErrIoTransient, err)
			}
		}
	}

	if err := os.Rename(tmpPath, job.Path); err != nil {
		return fmt.Errorf("%w: committing write: %v", ErrIoTransient, err)
	}

	success = true
	return nil
}

// ErrIoTransient is returned (wrapped) by writeOne on any filesystem
// failure expected to be transient.
var ErrIoTransient = errors.New("writer: transient io error")
