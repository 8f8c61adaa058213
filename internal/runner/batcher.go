package runner

// Batch is a non-empty ordered sequence of entries handed to Callback.Run
// in one invocation. Its length is always in [1, MaxBatchSize] except for
// a RetryWith outcome, which is preserved oversized per spec (see
// retry.go).
type Batch[T any] []T

// batcher accumulates entries and flushes complete batches of maxSize via
// the supplied sink. A residual partial batch must be flushed explicitly
// by calling Flush once the entry stream is exhausted. A batcher is owned
// by a single goroutine (the init-stream driver, or the flush timer) and
// is never shared.
type batcher[T any] struct {
	maxSize int
	current []T
	sink    func(Batch[T])
}

func newBatcher[T any](maxSize int, sink func(Batch[T])) *batcher[T] {
	return &batcher[T]{
		maxSize: maxSize,
		current: make([]T, 0, maxSize),
		sink:    sink,
	}
}

// Add appends entry to the accumulator, flushing a full batch to the sink
// when it reaches maxSize.
func (b *batcher[T]) Add(entry T) {
	b.current = append(b.current, entry)
	if len(b.current) >= b.maxSize {
		b.flushFull()
	}
}

func (b *batcher[T]) flushFull() {
	batch := make(Batch[T], len(b.current))
	copy(batch, b.current)
	b.current = b.current[:0]
	b.sink(batch)
}

// Flush emits any residual partial batch. Safe to call when empty (no-op).
func (b *batcher[T]) Flush() {
	if len(b.current) == 0 {
		return
	}
	batch := make(Batch[T], len(b.current))
	copy(batch, b.current)
	b.current = b.current[:0]
	b.sink(batch)
}

// batchEntries splits a flat slice of entries into batches of at most
// maxSize, preserving order. Used by the flush timer to batch the
// current buffer in one pass.
func batchEntries[T any](entries []T, maxSize int) []Batch[T] {
	if len(entries) == 0 {
		return nil
	}
	var batches []Batch[T]
	for len(entries) > 0 {
		n := maxSize
		if n > len(entries) {
			n = len(entries)
		}
		batch := make(Batch[T], n)
		copy(batch, entries[:n])
		batches = append(batches, batch)
		entries = entries[n:]
	}
	return batches
}
