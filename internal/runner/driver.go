package runner

import "context"

// startInitStream spawns the background goroutine that runs
// Callback.Init, per spec.md §4.3. Must only be called from the owner
// goroutine, and only when initRunning is false.
func (r *Runner[T]) startInitStream(ctx context.Context) {
	if r.initRunning {
		return
	}
	r.initRunning = true

	r.workers.Add(1)
	go r.runInitStream(ctx)
}

func (r *Runner[T]) runInitStream(ctx context.Context) {
	defer r.workers.Done()

	b := newBatcher[T](r.cfg.MaxBatchSize, func(batch Batch[T]) {
		// emit is called synchronously from within Init; this blocking
		// send into the owner's mailbox is the backpressure point that
		// ties init throughput to consumption rate (spec.md §5).
		done := make(chan struct{})
		r.post(func() {
			r.pushEntries(batch)
			close(done)
		})
		select {
		case <-done:
		case <-r.done:
		}
	})

	emit := func(entry T) error {
		b.Add(entry)
		return nil
	}

	if err := r.callback.Init(ctx, emit); err != nil {
		r.logger.Warn("init stream terminated with error, marking init complete", "error", err)
	}
	b.Flush()

	r.post(func() {
		r.initRunning = false
		r.maybeRecoverFromShrink(ctx)
	})
}
