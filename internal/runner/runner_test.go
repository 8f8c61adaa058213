package runner

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedCallback is a synthetic runner.Callback[string] driven entirely
// by test-supplied functions, in place of a real blockchain RPC / storage
// collaborator.
type scriptedCallback struct {
	mu         sync.Mutex
	initCalls  int32
	emit       []string
	runCh      chan Batch[string]
	result     func(call int, batch Batch[string]) (Outcome[string], error)
	runCount   int32
}

func (c *scriptedCallback) Init(ctx context.Context, emit func(string) error) error {
	atomic.AddInt32(&c.initCalls, 1)
	for _, e := range c.emit {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *scriptedCallback) Run(ctx context.Context, batch Batch[string]) (Outcome[string], error) {
	call := int(atomic.AddInt32(&c.runCount, 1))
	cp := append(Batch[string]{}, batch...)
	if c.runCh != nil {
		c.runCh <- cp
	}
	if c.result != nil {
		return c.result(call, batch)
	}
	return OK[string](), nil
}

func waitBatch(t *testing.T, ch chan Batch[string], timeout time.Duration) Batch[string] {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a Run call")
		return nil
	}
}

func expectNoBatch(t *testing.T, ch chan Batch[string], within time.Duration) {
	t.Helper()
	select {
	case b := <-ch:
		t.Fatalf("unexpected Run call with batch %v", b)
	case <-time.After(within):
	}
}

// Scenario 1: init drain.
func TestScenario_InitDrain(t *testing.T) {
	cb := &scriptedCallback{
		emit:  []string{"a", "b", "c", "d", "e"},
		runCh: make(chan Batch[string], 8),
	}
	cfg := Config{FlushInterval: time.Hour, MaxBatchSize: 3, MaxConcurrency: 1, ShutdownGrace: time.Second}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	b1 := waitBatch(t, cb.runCh, 2*time.Second)
	b2 := waitBatch(t, cb.runCh, 2*time.Second)

	if !reflect.DeepEqual(b1, Batch[string]{"a", "b", "c"}) {
		t.Fatalf("first batch = %v, want [a b c]", b1)
	}
	if !reflect.DeepEqual(b2, Batch[string]{"d", "e"}) {
		t.Fatalf("second batch = %v, want [d e]", b2)
	}
}

// Scenario 2: retry same.
func TestScenario_RetrySame(t *testing.T) {
	cb := &scriptedCallback{
		emit:  []string{"a"},
		runCh: make(chan Batch[string], 8),
		result: func(call int, batch Batch[string]) (Outcome[string], error) {
			if call == 1 {
				return Retry[string](), nil
			}
			return OK[string](), nil
		},
	}
	cfg := Config{FlushInterval: time.Hour, MaxBatchSize: 3, MaxConcurrency: 1, ShutdownGrace: time.Second}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	b1 := waitBatch(t, cb.runCh, 2*time.Second)
	b2 := waitBatch(t, cb.runCh, 2*time.Second)
	if !reflect.DeepEqual(b1, Batch[string]{"a"}) || !reflect.DeepEqual(b2, Batch[string]{"a"}) {
		t.Fatalf("batches = %v, %v, want [a] twice", b1, b2)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dc, err := r.DebugCount(ctx)
		if err != nil {
			t.Fatalf("DebugCount() error = %v", err)
		}
		if dc.Tasks == 0 && dc.Buffer == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("debug_count never reached zero")
}

// Scenario 3: retry rewrite.
func TestScenario_RetryRewrite(t *testing.T) {
	cb := &scriptedCallback{
		emit:  []string{"x"},
		runCh: make(chan Batch[string], 8),
		result: func(call int, batch Batch[string]) (Outcome[string], error) {
			if call == 1 {
				return RetryWith[string]([]string{"y", "z"}), nil
			}
			return OK[string](), nil
		},
	}
	cfg := Config{FlushInterval: time.Hour, MaxBatchSize: 3, MaxConcurrency: 1, ShutdownGrace: time.Second}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	b1 := waitBatch(t, cb.runCh, 2*time.Second)
	b2 := waitBatch(t, cb.runCh, 2*time.Second)

	if !reflect.DeepEqual(b1, Batch[string]{"x"}) {
		t.Fatalf("first batch = %v, want [x]", b1)
	}
	if !reflect.DeepEqual(b2, Batch[string]{"y", "z"}) {
		t.Fatalf("second batch = %v, want [y z]", b2)
	}
}

// Scenario 3b: a panicking Run is treated like a crash (spec.md §4.5) and
// retries the same batch, same entries, same order (P5).
func TestScenario_PanicRetry(t *testing.T) {
	cb := &scriptedCallback{
		emit:  []string{"a"},
		runCh: make(chan Batch[string], 8),
		result: func(call int, batch Batch[string]) (Outcome[string], error) {
			if call == 1 {
				panic("boom")
			}
			return OK[string](), nil
		},
	}
	cfg := Config{FlushInterval: time.Hour, MaxBatchSize: 3, MaxConcurrency: 1, ShutdownGrace: time.Second}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	b1 := waitBatch(t, cb.runCh, 2*time.Second)
	b2 := waitBatch(t, cb.runCh, 2*time.Second)
	if !reflect.DeepEqual(b1, Batch[string]{"a"}) || !reflect.DeepEqual(b2, Batch[string]{"a"}) {
		t.Fatalf("batches = %v, %v, want [a] twice (a panic must retry the same entries)", b1, b2)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dc, err := r.DebugCount(ctx)
		if err != nil {
			t.Fatalf("DebugCount() error = %v", err)
		}
		if dc.Tasks == 0 && dc.Buffer == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("debug_count never reached zero")
}

// Scenario 3c: a panic recovered while Stop is draining must surface
// through Stop's returned error (SPEC_FULL.md §7).
func TestScenario_StopReportsRecoveredPanic(t *testing.T) {
	release := make(chan struct{})
	cb := &scriptedCallback{
		emit:  []string{"a"},
		runCh: make(chan Batch[string], 8),
		result: func(call int, batch Batch[string]) (Outcome[string], error) {
			<-release
			panic("boom during drain")
		},
	}
	cfg := Config{FlushInterval: time.Hour, MaxBatchSize: 3, MaxConcurrency: 1, ShutdownGrace: 2 * time.Second}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)

	waitBatch(t, cb.runCh, 2*time.Second)

	stopErrCh := make(chan error, 1)
	go func() {
		stopErrCh <- r.Stop(context.Background())
	}()

	// Give Stop time to mark shuttingDown and enter its grace wait before
	// the worker panics, so the recovered panic lands while the owner is
	// already draining rather than before Stop was even called.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-stopErrCh:
		if err == nil {
			t.Fatalf("Stop() error = nil, want a non-nil error reporting the recovered panic")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop() never returned")
	}
}

// Scenario 4: concurrency cap.
func TestScenario_ConcurrencyCap(t *testing.T) {
	started := make(chan Batch[string], 8)
	release := make(chan struct{})

	cb := &scriptedCallback{
		emit:  []string{"a", "b", "c", "d"},
		runCh: started,
		result: func(call int, batch Batch[string]) (Outcome[string], error) {
			<-release
			return OK[string](), nil
		},
	}
	cfg := Config{FlushInterval: time.Hour, MaxBatchSize: 1, MaxConcurrency: 2, ShutdownGrace: time.Second}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	waitBatch(t, started, 2*time.Second)
	waitBatch(t, started, 2*time.Second)
	expectNoBatch(t, started, 200*time.Millisecond)

	release <- struct{}{}
	release <- struct{}{}

	waitBatch(t, started, 2*time.Second)
	waitBatch(t, started, 2*time.Second)
	expectNoBatch(t, started, 200*time.Millisecond)

	release <- struct{}{}
	release <- struct{}{}
}

// Scenario 5: dedup.
func TestScenario_Dedup(t *testing.T) {
	cb := &scriptedCallback{
		runCh: make(chan Batch[string], 8),
	}
	cfg := Config{
		FlushInterval: 30 * time.Millisecond, MaxBatchSize: 10, MaxConcurrency: 1,
		DedupEntries: true, ShutdownGrace: time.Second,
	}
	r := NewWithDedup[string](cfg, cb, testLogger(), func(s string) any { return s })

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	if err := r.Buffer(ctx, []string{"a", "b"}, 0); err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}
	if err := r.Buffer(ctx, []string{"b", "c"}, 0); err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}

	b := waitBatch(t, cb.runCh, 2*time.Second)
	sorted := append(Batch[string]{}, b...)
	sort.Strings(sorted)
	if !reflect.DeepEqual(sorted, Batch[string]{"a", "b", "c"}) {
		t.Fatalf("flushed batch = %v, want exactly one each of a, b, c", sorted)
	}
}

// Scenario 6: shrink-and-recover.
func TestScenario_ShrinkAndRecover(t *testing.T) {
	const total = 11 // 1 dispatched immediately + 10 queued
	entries := make([]string, total)
	for i := range entries {
		entries[i] = string(rune('a' + i))
	}

	release := make(chan struct{})
	cb := &scriptedCallback{
		emit:  entries,
		runCh: make(chan Batch[string], total+4),
		result: func(call int, batch Batch[string]) (Outcome[string], error) {
			<-release
			return OK[string](), nil
		},
	}

	maxQueue := 10
	cfg := Config{
		FlushInterval: time.Hour, MaxBatchSize: 1, MaxConcurrency: 1,
		MaxQueueSize: &maxQueue, ShutdownGrace: time.Second,
	}
	r := New[string](cfg, cb, testLogger())

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	// Let the first entry reach the (blocked) worker so the remaining 10
	// are sitting in the bound queue.
	waitBatch(t, cb.runCh, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		dc, err := r.DebugCount(ctx)
		if err != nil {
			t.Fatalf("DebugCount() error = %v", err)
		}
		if dc.Buffer >= 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled, debug_count = %+v", dc)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Shrink(ctx); err != nil {
		t.Fatalf("Shrink() error = %v", err)
	}
	if shrunk, _ := r.Shrunk(ctx); !shrunk {
		t.Fatalf("Shrunk() = false after a successful Shrink")
	}

	// Drain everything from here on: keep the worker pool running by
	// continuously releasing and discarding completed batches, regardless
	// of how many were dropped by the shrink's truncation. The property
	// under test is only that the queue empties and a fresh init is
	// scheduled, not the exact surviving count.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-cb.runCh:
				select {
				case release <- struct{}{}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	deadline = time.Now().Add(2 * time.Second)
	for {
		if atomic.LoadInt32(&cb.initCalls) >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("init was never rerun after shrink emptied the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
