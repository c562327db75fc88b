package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	productColumns = `id, name, price, stock, active`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	// Rows are locked in id order so concurrent multi-product orders cannot
	// deadlock each other.
	lockProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`

	adjustStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING ` + productColumns

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			active = EXCLUDED.active, updated_at = now()`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db querier
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDsForUpdate returns and locks the products matching ids.
func (r *ProductRepository) GetByIDsForUpdate(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Exists reports whether a product with id exists.
func (r *ProductRepository) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, productExistsSQL, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking product %q: %w", id, err)
	}
	return ok, nil
}

// AdjustStock adds delta to the product stock unless that would make it
// negative.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta int) (*product.Product, error) {
	rows, err := r.db.Query(ctx, adjustStockSQL, id, delta)
	if err != nil {
		return nil, fmt.Errorf("adjusting stock of %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("adjusting stock of %q: %w", id, err)
	}

	// No row updated: either the product is gone or the guard refused.
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, product.ErrNotFound
	}
	return nil, product.ErrInsufficientStock
}

// Upsert inserts p or overwrites the stored product with the same id.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if err := product.ValidatePrice(p.Price); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	if _, err := r.db.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Stock, p.Active); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active)
	return p, err
}
