package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

var _ order.Store = (*Store)(nil)

// Store implements order.Store on PostgreSQL.
//
// Transactions run at READ COMMITTED. Stock consistency comes from row locks
// taken by ProductRepository.GetByIDsForUpdate and the guarded stock update,
// not from the isolation level.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store using pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (order.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Orders returns a repository running outside any transaction.
func (s *Store) Orders() order.Repository {
	return &OrderRepository{db: s.pool, parallel: true}
}

// Products returns a repository running outside any transaction.
func (s *Store) Products() *ProductRepository {
	return &ProductRepository{db: s.pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Tx is an open database transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Products() product.Repository { return &ProductRepository{db: t.tx} }
func (t *Tx) Orders() order.Repository     { return &OrderRepository{db: t.tx} }
func (t *Tx) Events() order.EventLog       { return &EventLog{db: t.tx} }

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}
