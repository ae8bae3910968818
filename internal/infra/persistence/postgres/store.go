// Package postgres persists canonical market data records. All writes are
// idempotent; replaying a stream after a reconnect must not duplicate rows.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgxpool.Pool behaviour the stores depend on.
// Tests substitute a fake.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles the per-record-type repositories behind one pool.
type Store struct {
	Contracts *ContractStore
	Market    *MarketStore
	News      *NewsStore
}

// New constructs the PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	contracts := NewContractStore(pool)
	return &Store{
		Contracts: contracts,
		Market:    NewMarketStore(pool, contracts),
		News:      NewNewsStore(pool),
	}
}
