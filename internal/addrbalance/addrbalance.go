// Package addrbalance is the runner.Callback[T] implementation named in
// spec.md's running example: "fetch balances for every address". Init
// streams the known address set from storage; Run fetches each batch's
// current balance from an RPC client and writes the results through
// pgsink.
package addrbalance

import (
	"context"
	"fmt"
	"time"

	"github.com/race-go/runner/internal/pgsink"
	"github.com/race-go/runner/internal/runner"
)

// AddressLister is the narrow query surface Init needs, the same shape
// the teacher names its sqlc-generated dbgen.Querier: just enough
// methods to do the one job, nothing more.
type AddressLister interface {
	ListAddresses(ctx context.Context) ([]string, error)
}

// BalanceFetcher is the external RPC collaborator that looks up one
// address's current balance. Out of scope per spec.md §1 ("the
// blockchain RPC clients that supply entries" are external
// collaborators) — only its interface lives here.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, address string) (wei string, err error)
}

// Sink is the narrow write surface Run needs; pgsink.Sink satisfies it.
type Sink interface {
	Write(ctx context.Context, rows []pgsink.BalanceRow) (int64, error)
}

// Logger is the narrow logging surface addrbalance needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Callback implements runner.Callback[string], keyed on address.
type Callback struct {
	lister  AddressLister
	fetcher BalanceFetcher
	sink    Sink
	logger  Logger
}

func New(lister AddressLister, fetcher BalanceFetcher, sink Sink, logger Logger) *Callback {
	return &Callback{lister: lister, fetcher: fetcher, sink: sink, logger: logger}
}

var _ runner.Callback[string] = (*Callback)(nil)

// Init enumerates every known address and emits it once. Rerun on poll
// wakeups and on shrink recovery (spec.md §4.7), so it must be safe to
// call repeatedly and must re-derive the address set from storage rather
// than from in-memory state, per the shrink-recovery prerequisite
// documented in spec.md's design notes.
func (c *Callback) Init(ctx context.Context, emit func(string) error) error {
	addresses, err := c.lister.ListAddresses(ctx)
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}
	for _, addr := range addresses {
		if err := emit(addr); err != nil {
			return err
		}
	}
	return nil
}

// Run fetches the current balance for every address in the batch and
// writes the successfully-fetched rows. A partial fetch failure retries
// only the addresses that failed, via RetryWith, rather than the whole
// batch — the per-entry granularity the spec's retry(new_entries)
// open question makes possible.
func (c *Callback) Run(ctx context.Context, batch runner.Batch[string]) (runner.Outcome[string], error) {
	now := time.Now().UTC()
	rows := make([]pgsink.BalanceRow, 0, len(batch))
	var failed []string

	for _, address := range batch {
		wei, err := c.fetcher.FetchBalance(ctx, address)
		if err != nil {
			c.logger.Warn("balance fetch failed, will retry", "address", address, "error", err)
			failed = append(failed, address)
			continue
		}
		rows = append(rows, pgsink.BalanceRow{Address: address, BalanceWei: wei, ObservedAt: now})
	}

	if len(rows) > 0 {
		if _, err := c.sink.Write(ctx, rows); err != nil {
			c.logger.Error("balance write failed, retrying whole batch", "error", err)
			return runner.Retry[string](), nil
		}
	}

	if len(failed) > 0 {
		return runner.RetryWith[string](failed), nil
	}
	return runner.OK[string](), nil
}
