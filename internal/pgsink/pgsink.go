// Package pgsink writes balance rows to PostgreSQL in bulk using pgx's
// COPY protocol, adapted from the teacher's BatchWriter.writeBatch: same
// begin/CopyFrom/commit shape, but the batching, retry, and backpressure
// that batchWriter.go does for itself now live one level up in
// internal/runner — pgsink only needs to know how to write one batch.
package pgsink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BalanceRow is one observed address balance, ready for insertion.
type BalanceRow struct {
	Address    string
	BalanceWei string
	ObservedAt time.Time
}

// Sink writes balance rows via COPY inside its own transaction.
type Sink struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

// Write bulk-inserts rows into the address_balances table. Returns the
// number of rows copied alongside any error, so callers can decide
// whether a partial COPY still counts as forward progress.
func (s *Sink) Write(ctx context.Context, rows []BalanceRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			// best-effort: transaction was already committed or already closed
			_ = err
		}
	}()

	copied, err := tx.Conn().CopyFrom(
		ctx,
		pgx.Identifier{"address_balances"},
		[]string{"address", "balance_wei", "observed_at"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			r := rows[i]
			return []interface{}{r.Address, r.BalanceWei, r.ObservedAt}, nil
		}),
	)
	if err != nil {
		return copied, fmt.Errorf("copy address_balances: %w", err)
	}
	if copied != int64(len(rows)) {
		return copied, fmt.Errorf("copy count mismatch: expected %d, got %d", len(rows), copied)
	}

	if err := tx.Commit(ctx); err != nil {
		return copied, fmt.Errorf("commit transaction: %w", err)
	}
	return copied, nil
}
