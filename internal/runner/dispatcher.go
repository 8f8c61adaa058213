package runner

import "fmt"

// dispatch implements the invariant loop of spec.md §4.4: while there is
// a free concurrency slot and the bound queue is non-empty, pop a batch
// and launch it on a worker goroutine. It must only ever be called from
// the owner goroutine.
func (r *Runner[T]) dispatch() {
	if r.shuttingDown {
		return
	}
	for r.sem.TryAcquire(1) {
		batch, ok := r.queue.PopFront()
		if !ok {
			r.sem.Release(1)
			break
		}

		handle := r.nextHandle
		r.nextHandle++
		r.inFlight[handle] = batch

		r.workers.Add(1)
		go r.runWorker(handle, batch)
	}

	r.maybeRecoverFromShrink(r.ctx)
}

// runWorker executes Callback.Run for one batch and posts the result
// back onto the owner's mailbox. It recovers panics and treats them
// identically to a worker crash (spec.md §4.5): re-queue the original
// batch.
func (r *Runner[T]) runWorker(handle uint64, batch Batch[T]) {
	defer r.workers.Done()

	var (
		outcome  Outcome[T]
		runErr   error
		panicked bool
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				panicked = true
				runErr = fmt.Errorf("worker panicked: %v", p)
				r.logger.Error("worker panicked, batch will be retried", "handle", handle, "panic", p)
			}
		}()
		outcome, runErr = r.callback.Run(r.ctx, batch)
	}()

	r.post(func() {
		r.handleWorkerDone(handle, batch, outcome, runErr, panicked)
	})
}
