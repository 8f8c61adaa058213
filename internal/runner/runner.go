// Package runner implements a buffered, batched, retrying task runner
// with cooperative memory shrinking. One Runner is instantiated per
// callback module (a user-supplied Init/Run pair); it fans out
// long-running stream work, accepts on-demand enqueue requests, coalesces
// them into bounded batches, runs them with bounded concurrency, retries
// transient failures, and yields memory back to the process when an
// external memory monitor signals pressure.
//
// All state mutation is serialized on a single owner goroutine (the
// "owner-actor pattern"): callers and worker goroutines never touch
// Runner fields directly, they post closures onto the owner's mailbox.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Runner is the owning single-writer facade described in spec.md §4.9.
// Create one with New, call Start once, and Stop to shut down.
type Runner[T any] struct {
	cfg      Config
	callback Callback[T]
	logger   Logger

	dedup *deduper[T, any]
	keyOf func(T) any

	mailbox chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	workers sync.WaitGroup
	ctx     context.Context

	// --- fields below are only ever touched on the owner goroutine ---
	currentBuffer []T
	queue         *boundQueue[Batch[T]]
	inFlight      map[uint64]Batch[T]
	nextHandle    uint64
	sem           *semaphore.Weighted

	initRunning           bool
	flushTimer            *time.Timer
	pollPending           bool
	shrinkRecoveryPending bool

	shuttingDown bool
	drainErr     error // accumulated via multierr.Append by retry.go
	stopErr      error
	stopOnce     sync.Once
}

// Logger is the narrow logging surface the runner needs; *slog.Logger
// satisfies it. See internal/runnerlog for the concrete wrapper used
// throughout this module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New constructs a Runner for entry type T without deduplication. Use
// NewWithDedup to enable the push-edge dedup filter.
func New[T any](cfg Config, cb Callback[T], logger Logger) *Runner[T] {
	return newRunner[T](cfg, cb, logger, nil)
}

// NewWithDedup constructs a Runner with deduplication enabled. keyOf must
// extract a stable, comparable key from an entry.
func NewWithDedup[T any](cfg Config, cb Callback[T], logger Logger, keyOf func(T) any) *Runner[T] {
	cfg.DedupEntries = true
	return newRunner[T](cfg, cb, logger, keyOf)
}

func newRunner[T any](cfg Config, cb Callback[T], logger Logger, keyOf func(T) any) *Runner[T] {
	var maxSize *int
	if cfg.MaxQueueSize != nil {
		v := *cfg.MaxQueueSize
		maxSize = &v
	}

	r := &Runner[T]{
		cfg:      cfg,
		callback: cb,
		logger:   logger,
		mailbox:  make(chan func(), 64),
		done:     make(chan struct{}),
		queue:    newBoundQueue[Batch[T]](maxSize),
		inFlight: make(map[uint64]Batch[T]),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
	if cfg.DedupEntries {
		if keyOf == nil {
			keyOf = func(t T) any { return any(t) }
		}
		r.keyOf = keyOf
		r.dedup = newDeduper[T, any](keyOf)
	}
	return r
}

// Start launches the owner goroutine and the initial stream driver. It
// returns once both are running; shutdown happens via ctx cancellation or
// an explicit call to Stop.
func (r *Runner[T]) Start(ctx context.Context) {
	r.ctx = ctx
	r.wg.Add(1)
	go r.ownerLoop(ctx)

	r.post(func() {
		r.armFlushTimer()
		r.startInitStream(ctx)
	})
}

// Stop requests a graceful shutdown: the owner stops its timer, refuses
// new Buffer calls, waits up to Config.ShutdownGrace for in-flight
// workers, then abandons any stragglers. It returns a joined error for
// any workers whose panics were recovered while abandonment was already
// in progress.
func (r *Runner[T]) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		respCh := make(chan error, 1)
		r.post(func() {
			r.shuttingDown = true
			if r.flushTimer != nil {
				r.flushTimer.Stop()
			}
			respCh <- nil
		})
		select {
		case <-respCh:
		case <-ctx.Done():
		}

		grace := r.cfg.shutdownGrace()
		graceTimer := time.NewTimer(grace)
		defer graceTimer.Stop()

		waitDone := make(chan struct{})
		go func() {
			r.workers.Wait()
			close(waitDone)
		}()

		select {
		case <-waitDone:
		case <-graceTimer.C:
			r.logger.Warn("shutdown grace period elapsed, abandoning in-flight workers")
		}

		close(r.done)
		r.wg.Wait()
		r.stopErr = r.drainErr
	})
	return r.stopErr
}

func (r *Runner[T]) post(fn func()) {
	select {
	case r.mailbox <- fn:
	case <-r.done:
	}
}

func (r *Runner[T]) ownerLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case fn := <-r.mailbox:
			fn()
		case <-ctx.Done():
			return
		case <-r.done:
			// Drain any remaining posted closures without blocking, then exit.
			for {
				select {
				case fn := <-r.mailbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Buffer appends entries as one list onto the current buffer, admitted
// through the owner's serialization point. The timeout bounds only the
// admission handshake, never the eventual Run call.
func (r *Runner[T]) Buffer(ctx context.Context, entries []T, timeout time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	admitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		admitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	accepted := make(chan error, 1)
	fn := func() {
		if r.shuttingDown {
			accepted <- fmt.Errorf("runner: %w", errShuttingDown)
			return
		}
		r.currentBuffer = append(r.currentBuffer, entries...)
		accepted <- nil
	}

	select {
	case r.mailbox <- fn:
	case <-admitCtx.Done():
		return fmt.Errorf("buffer: admission timed out: %w", admitCtx.Err())
	case <-r.done:
		return errShuttingDown
	}

	select {
	case err := <-accepted:
		return err
	case <-admitCtx.Done():
		return fmt.Errorf("buffer: admission timed out: %w", admitCtx.Err())
	}
}

var errShuttingDown = fmt.Errorf("runner is shutting down")

// DebugCount returns an upper-bound estimate of pending entries and the
// number of in-flight batches.
func (r *Runner[T]) DebugCount(ctx context.Context) (DebugCount, error) {
	resp := make(chan DebugCount, 1)
	r.post(func() {
		resp <- DebugCount{
			Buffer: len(r.currentBuffer) + r.queue.Len()*r.cfg.MaxBatchSize,
			Tasks:  len(r.inFlight),
		}
	})
	select {
	case dc := <-resp:
		return dc, nil
	case <-ctx.Done():
		return DebugCount{}, ctx.Err()
	}
}

// Shrink implements Shrinkable: it halves the bound queue's maximum size
// and drops overflow from the back, per spec.md §4.1/§4.8.
func (r *Runner[T]) Shrink(ctx context.Context) error {
	resp := make(chan error, 1)
	r.post(func() {
		err := r.queue.Shrink()
		if err == nil {
			r.shrinkRecoveryPending = true
			r.maybeRecoverFromShrink(r.ctx)
		}
		resp <- err
	})
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shrunk implements Shrinkable.
func (r *Runner[T]) Shrunk(ctx context.Context) (bool, error) {
	resp := make(chan bool, 1)
	r.post(func() {
		resp <- r.queue.Shrunk()
	})
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
