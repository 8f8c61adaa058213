package runner

import (
	"context"
	"time"
)

// armFlushTimer schedules the single periodic flush tick (spec.md I5:
// exactly one flush_timer armed at a time). Must only be called from the
// owner goroutine.
func (r *Runner[T]) armFlushTimer() {
	if r.flushTimer != nil {
		r.flushTimer.Stop()
	}
	r.flushTimer = time.AfterFunc(r.cfg.FlushInterval, func() {
		r.post(func() { r.flushTick(r.ctx) })
	})
}

// flushTick moves current_buffer into the bound queue (batched), runs the
// dispatcher, optionally schedules a poll-mode Init rerun when idle, and
// rearms the next flush.
func (r *Runner[T]) flushTick(ctx context.Context) {
	if r.shuttingDown {
		return
	}

	entries := r.currentBuffer
	r.currentBuffer = nil
	r.pushEntries(entries)

	if r.cfg.Poll && r.queue.Len() == 0 && !r.initRunning && !r.pollPending {
		r.schedulePollRerun(ctx)
	}

	r.armFlushTimer()
}

func (r *Runner[T]) schedulePollRerun(ctx context.Context) {
	r.pollPending = true
	time.AfterFunc(r.cfg.pollInterval(), func() {
		r.post(func() {
			r.pollPending = false
			if !r.shuttingDown && !r.initRunning {
				r.startInitStream(ctx)
			}
		})
	})
}

// maybeRecoverFromShrink triggers an immediate Init rerun when the bound
// queue has both been shrunk and just emptied, per spec.md §4.7's
// recovery clause (scenario 6): this is the property that makes shrinking
// safe, since contracting the queue never drops in-flight work but does
// drop queued overflow that only a re-enumeration can replace.
func (r *Runner[T]) maybeRecoverFromShrink(ctx context.Context) {
	if r.shuttingDown || r.initRunning {
		return
	}
	if r.shrinkRecoveryPending && r.queue.Len() == 0 {
		r.shrinkRecoveryPending = false
		r.logger.Info("bound queue emptied after shrink, rerunning init to rehydrate")
		r.startInitStream(ctx)
	}
}
