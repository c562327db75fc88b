package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	orderColumns = `id, user_id, status, total_amount, created_at, updated_at`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	countOrdersByUserSQL = `SELECT count(*) FROM orders WHERE user_id = $1`

	insertOrderSQL = `INSERT INTO orders (id, user_id, status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	itemColumns = `id, order_id, product_id, quantity, unit_price, created_at`

	listItemsSQL = `SELECT ` + itemColumns + ` FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`

	insertItemSQL = `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	deleteItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	updateTotalSQL = `UPDATE orders SET total_amount = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + orderColumns

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + orderColumns
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// live in order_items and keep the position they were given in.
type OrderRepository struct {
	db querier
	// parallel allows independent queries to run concurrently. Only safe on
	// a pool, never on a transaction's single connection.
	parallel bool
}

// GetByID returns an order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetByIDForUpdate returns an order with its items and locks the order row.
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if err := r.loadItems(ctx, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByUser returns one page of a user's orders, newest first, and the
// user's total order count.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page order.Page) ([]order.Order, int, error) {
	var (
		orders []order.Order
		total  int
	)
	count := func(ctx context.Context) error {
		if err := r.db.QueryRow(ctx, countOrdersByUserSQL, userID).Scan(&total); err != nil {
			return fmt.Errorf("counting orders of %q: %w", userID, err)
		}
		return nil
	}
	list := func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, listOrdersByUserSQL, userID, page.Limit, page.Offset())
		if err != nil {
			return fmt.Errorf("listing orders of %q: %w", userID, err)
		}
		orders, err = pgx.CollectRows(rows, scanOrder)
		if err != nil {
			return fmt.Errorf("listing orders of %q: %w", userID, err)
		}
		ptrs := make([]*order.Order, len(orders))
		for i := range orders {
			ptrs[i] = &orders[i]
		}
		return r.loadItems(ctx, ptrs)
	}

	// The parallel count and page run on separate pool connections without a
	// shared snapshot, so an order committed between them can make total
	// disagree with the returned rows. Inside a transaction r.db is a single
	// connection and parallel is off.
	if r.parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return count(gctx) })
		g.Go(func() error { return list(gctx) })
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}
	} else {
		if err := count(ctx); err != nil {
			return nil, 0, err
		}
		if err := list(ctx); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// Save inserts an order and its items, assigning ids where missing.
func (r *OrderRepository) Save(ctx context.Context, o order.Order) (*order.Order, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if _, err := r.db.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, string(o.Status), o.Total, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	items, err := r.insertItems(ctx, o.ID, o.Items, o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

// ReplaceItems deletes every item of the order and inserts items in their
// place, setting the order total.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []order.Item, total decimal.Decimal) (*order.Order, error) {
	if _, err := r.db.Exec(ctx, deleteItemsSQL, orderID); err != nil {
		return nil, fmt.Errorf("deleting items of %q: %w", orderID, err)
	}

	rows, err := r.db.Query(ctx, updateTotalSQL, orderID, total)
	if err != nil {
		return nil, fmt.Errorf("updating order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("updating order %q: %w", orderID, err)
	}

	fresh := make([]order.Item, len(items))
	for i, it := range items {
		fresh[i] = order.NewItem(it.ProductID, it.Quantity, it.UnitPrice)
	}
	if o.Items, err = r.insertItems(ctx, orderID, fresh, o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatus sets the order status and refreshes updated_at.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error) {
	rows, err := r.db.Query(ctx, updateStatusSQL, orderID, string(status))
	if err != nil {
		return nil, fmt.Errorf("updating status of %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("updating status of %q: %w", orderID, err)
	}
	if err := r.loadItems(ctx, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) insertItems(ctx context.Context, orderID string, items []order.Item, createdAt time.Time) ([]order.Item, error) {
	out := make([]order.Item, len(items))
	batch := &pgx.Batch{}
	for i, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = createdAt
		}
		out[i] = it
		batch.Queue(insertItemSQL, it.ID, orderID, it.ProductID, it.Quantity, it.UnitPrice, i, it.CreatedAt)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("inserting items of %q: %w", orderID, err)
	}
	return out, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []order.Item{}
	}

	rows, err := r.db.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      order.Item
			orderID string
		)
		if err := rows.Scan(&it.ID, &orderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.CreatedAt); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	o.Status = order.Status(status)
	return o, err
}
