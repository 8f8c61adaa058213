package runner

import "context"

// ShrinkMonitor is the three-call contract a memory monitor uses to put
// cooperative backpressure on a Runner: register once at startup, then
// call Shrink whenever memory is under pressure and Shrunk to inspect
// whether a Runner is already contracted.
//
// The runner package is the consumer of this contract from the monitor's
// point of view (RegisterShrinkable is called by the monitor against a
// Shrinkable); internal/memmonitor supplies a concrete monitor.
type ShrinkMonitor interface {
	RegisterShrinkable(ctx context.Context, s Shrinkable)
}

// Shrinkable is implemented by Runner. A memory monitor holds a slice of
// Shrinkable and calls Shrink on each when it decides to reclaim memory.
type Shrinkable interface {
	Shrink(ctx context.Context) error
	Shrunk(ctx context.Context) (bool, error)
}
