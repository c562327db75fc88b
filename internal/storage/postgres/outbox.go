package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/pkg/outbox"
)

const (
	appendEventSQL = `INSERT INTO outbox (event_id, aggregate_id, type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`

	claimOutboxSQL = `SELECT id, event_id, aggregate_id, type, payload, occurred_at, retry_count
		FROM outbox
		WHERE status = 'pending'
			OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`

	leaseOutboxSQL = `UPDATE outbox
		SET status = 'in_progress', relay_id = $1, lease_until = now() + $2::interval
		WHERE id = ANY($3)`

	markSentSQL = `UPDATE outbox SET status = 'sent', lease_until = NULL WHERE id = ANY($1)`

	markFailedSQL = `UPDATE outbox
		SET retry_count = retry_count + 1,
			last_error = $2,
			lease_until = NULL,
			status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1`
)

var (
	_ order.EventLog = (*EventLog)(nil)
	_ outbox.Store   = (*OutboxStore)(nil)
)

// EventLog appends domain events to the outbox table inside a transaction.
type EventLog struct {
	db querier
}

func (l *EventLog) Append(ctx context.Context, e order.Event) error {
	if _, err := l.db.Exec(ctx, appendEventSQL,
		e.ID, e.OrderID, string(e.Type), e.Payload, e.OccurredAt,
	); err != nil {
		return fmt.Errorf("appending %s event: %w", e.Type, err)
	}
	return nil
}

// OutboxStore claims and settles outbox rows for the relay.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore returns an OutboxStore that uses the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// LockBatch claims up to batchSize rows for relayID. Rows locked by another
// relay are skipped.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning outbox claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, claimOutboxSQL, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox rows: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.ID, &m.EventID, &m.AggregateID, &m.Type, &m.Payload, &m.OccurredAt, &m.RetryCount)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming outbox rows: %w", err)
	}
	if len(msgs) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if _, err := tx.Exec(ctx, leaseOutboxSQL, relayID, lease.String(), ids); err != nil {
		return nil, fmt.Errorf("leasing outbox rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing outbox claim: %w", err)
	}
	return msgs, nil
}

// MarkSent settles delivered rows.
func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	if _, err := s.pool.Exec(ctx, markSentSQL, ids); err != nil {
		return fmt.Errorf("marking outbox rows sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, reason string, maxAttempts int) error {
	if _, err := s.pool.Exec(ctx, markFailedSQL, id, reason, maxAttempts); err != nil {
		return fmt.Errorf("marking outbox row %d failed: %w", id, err)
	}
	return nil
}
