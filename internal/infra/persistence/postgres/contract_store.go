package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foggle/foggle/internal/schema"
)

const (
	contractAdvisoryLockSQL = `SELECT pg_advisory_xact_lock(@lock_key);`

	contractSelectSQL = `
SELECT id FROM contracts
WHERE symbol = @symbol
  AND security_type = @security_type
  AND exchange = @exchange
  AND currency = @currency
  AND multiplier = @multiplier
  AND expiration_date IS NOT DISTINCT FROM @expiration_date
  AND strike IS NOT DISTINCT FROM @strike
  AND option_right IS NOT DISTINCT FROM @option_right;
`

	contractInsertSQL = `
INSERT INTO contracts (
    symbol,
    security_type,
    exchange,
    currency,
    multiplier,
    expiration_date,
    strike,
    option_right
)
VALUES (@symbol, @security_type, @exchange, @currency, @multiplier, @expiration_date, @strike, @option_right)
ON CONFLICT DO NOTHING
RETURNING id;
`
)

// ContractStore resolves canonical contract identities to database ids. A
// process-local cache makes the hot path a map lookup; a transaction-scoped
// advisory lock keyed on the contract identity serializes concurrent
// processes attempting the first insert of the same contract.
type ContractStore struct {
	db querier

	// mu serializes lookup-or-create per process so a burst of callbacks
	// for a fresh contract produces one database roundtrip, not N.
	mu    sync.Mutex
	cache map[schema.Key]int64
}

// NewContractStore constructs a ContractStore backed by the provided pool.
func NewContractStore(pool *pgxpool.Pool) *ContractStore {
	return newContractStore(pool)
}

func newContractStore(db querier) *ContractStore {
	return &ContractStore{db: db, cache: make(map[schema.Key]int64)}
}

// Resolve returns the database id for a contract, creating the row on first
// sight. Concurrent callers for the same fresh contract all receive the same
// id and exactly one insert reaches the database.
func (s *ContractStore) Resolve(ctx context.Context, contract schema.Contract) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("contract store: nil pool")
	}
	contract = contract.Normalize()
	if err := contract.Validate(); err != nil {
		return 0, err
	}
	key := contract.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.cache[key]; ok {
		return id, nil
	}
	id, err := s.lookupOrCreate(ctx, contract)
	if err != nil {
		return 0, err
	}
	s.cache[key] = id
	return id, nil
}

// Cached reports whether the contract already has a cached id.
func (s *ContractStore) Cached(contract schema.Contract) (int64, bool) {
	key := contract.Normalize().Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.cache[key]
	return id, ok
}

func (s *ContractStore) lookupOrCreate(ctx context.Context, contract schema.Contract) (int64, error) {
	args, err := contractArgs(contract)
	if err != nil {
		return 0, fmt.Errorf("contract store: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("contract store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockArgs := pgx.NamedArgs{"lock_key": advisoryKey(contract)}
	if _, err := tx.Exec(ctx, contractAdvisoryLockSQL, lockArgs); err != nil {
		return 0, fmt.Errorf("contract store: advisory lock: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, contractSelectSQL, args).Scan(&id)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, contractInsertSQL, args).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict with a row committed after our select; fetch it.
			err = tx.QueryRow(ctx, contractSelectSQL, args).Scan(&id)
		}
		if err != nil {
			return 0, fmt.Errorf("contract store: insert: %w", err)
		}
	default:
		return 0, fmt.Errorf("contract store: lookup: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("contract store: commit: %w", err)
	}
	return id, nil
}

func contractArgs(contract schema.Contract) (pgx.NamedArgs, error) {
	expiration, err := dateFromCompact(contract.Expiration)
	if err != nil {
		return nil, err
	}
	strike, err := numericFromOptional(contract.Strike)
	if err != nil {
		return nil, err
	}
	return pgx.NamedArgs{
		"symbol":          contract.Symbol,
		"security_type":   string(contract.SecType),
		"exchange":        contract.Exchange,
		"currency":        contract.Currency,
		"multiplier":      contract.Multiplier,
		"expiration_date": expiration,
		"strike":          strike,
		"option_right":    nullableText(string(contract.Right)),
	}, nil
}

// advisoryKey folds the coarse contract identity into the signed 64-bit
// space pg_advisory_xact_lock expects.
func advisoryKey(contract schema.Contract) int64 {
	h := fnv.New64a()
	_, _ = io.WriteString(h, contract.Symbol)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, string(contract.SecType))
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, contract.Exchange)
	return int64(h.Sum64())
}
