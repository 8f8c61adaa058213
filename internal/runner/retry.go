package runner

import "go.uber.org/multierr"

// pushEntries is the normal push_back(entries) edge used by the flush
// timer and the init-stream driver: entries are filtered through the
// deduper (if enabled), batched to MaxBatchSize, and appended to the
// bound queue. Overflow batches that don't fit are dropped with a warn
// log — the sole loss path besides explicit dedup filtering. Must only
// be called from the owner goroutine.
func (r *Runner[T]) pushEntries(entries []T) {
	if len(entries) == 0 {
		return
	}

	if r.dedup != nil {
		entries = r.dedup.Filter(entries, r.inFlight, r.queue.Items())
		if len(entries) == 0 {
			return
		}
	}

	batches := batchEntries(entries, r.cfg.MaxBatchSize)
	r.enqueueBatches(batches)
}

// pushBatchVerbatim re-enqueues a batch exactly as given, bypassing the
// deduper, so that a Retry outcome preserves P5 (retry fidelity: same
// entries, same order) and a RetryWith outcome can carry an
// over-MaxBatchSize batch through untouched, per spec.md's design note.
func (r *Runner[T]) pushBatchVerbatim(batch Batch[T]) {
	r.enqueueBatches([]Batch[T]{batch})
}

func (r *Runner[T]) enqueueBatches(batches []Batch[T]) {
	rejected := r.queue.PushBack(batches)
	if len(rejected) > 0 {
		dropped := 0
		for _, b := range rejected {
			dropped += len(b)
		}
		r.logger.Warn("bound queue full, dropping overflow batches",
			"dropped_batches", len(rejected), "dropped_entries", dropped)
	}
	r.dispatch()
}

// handleWorkerDone routes a completed worker's result: ok frees the slot,
// retry/retryWith re-enqueues (same batch, or substituted entries), and a
// recovered panic is treated identically to an explicit retry. Must only
// be called from the owner goroutine.
func (r *Runner[T]) handleWorkerDone(handle uint64, original Batch[T], outcome Outcome[T], runErr error, panicked bool) {
	delete(r.inFlight, handle)
	r.sem.Release(1)

	if r.shuttingDown {
		if panicked {
			r.drainErr = multierr.Append(r.drainErr, runErr)
		}
		return
	}

	switch {
	case panicked:
		r.pushBatchVerbatim(original)
	case runErr != nil:
		r.logger.Warn("worker returned an error, batch will be retried", "handle", handle, "error", runErr)
		r.pushBatchVerbatim(original)
	case outcome.kind == outcomeRetry:
		r.pushBatchVerbatim(original)
	case outcome.kind == outcomeRetryWith:
		r.pushBatchVerbatim(outcome.newEntries)
	default: // outcomeOK, or zero-value Outcome meaning "normal termination, no report"
		r.dispatch()
	}
}
