// Package addrstore implements addrbalance.AddressLister against the
// tracked_addresses table, the narrow sqlc-Querier-shaped query surface
// the teacher's dbgen package exposes for its own tables.
package addrstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListAddresses implements addrbalance.AddressLister.
func (s *Store) ListAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT address FROM tracked_addresses ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("query tracked addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan tracked address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}
