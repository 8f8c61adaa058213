package runner

import "context"

// Outcome is the verdict a Callback.Run returns for a dispatched batch.
type Outcome[T any] struct {
	kind      outcomeKind
	newEntries []T
}

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeRetry
	outcomeRetryWith
)

// OK reports successful processing of the whole batch.
func OK[T any]() Outcome[T] { return Outcome[T]{kind: outcomeOK} }

// Retry re-enqueues the exact same batch at the back of the queue.
func Retry[T any]() Outcome[T] { return Outcome[T]{kind: outcomeRetry} }

// RetryWith re-enqueues newEntries in place of the original batch.
// newEntries must be non-empty. It is pushed as a single batch even if
// its length exceeds MaxBatchSize — the runner does not split it on the
// caller's behalf; see spec.md's open question on this exact behavior.
func RetryWith[T any](newEntries []T) Outcome[T] {
	return Outcome[T]{kind: outcomeRetryWith, newEntries: newEntries}
}

// Callback is the user-supplied plug-in surface. Init walks an initial
// corpus (run at startup and on every poll/shrink-recovery wake) calling
// emit once per produced entry; it must eventually terminate. Run
// processes one dispatched batch and reports an Outcome. Run must be safe
// to call concurrently with itself (up to MaxConcurrency times) and with
// Init's emit callback.
type Callback[T any] interface {
	Init(ctx context.Context, emit func(T) error) error
	Run(ctx context.Context, batch Batch[T]) (Outcome[T], error)
}

// DebugCount is an upper-bound estimate of pending work, returned by
// Runner.DebugCount.
type DebugCount struct {
	Buffer int `json:"buffer"`
	Tasks  int `json:"tasks"`
}
