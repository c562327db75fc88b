package order

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/product"
)

// Repository defines persistence operations for orders. Implementations
// return ErrOrderNotFound for unknown ids.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetByIDForUpdate is GetByID holding a write lock on the order until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*Order, error)
	// ListByUser returns one page of the user's orders, newest first, and the
	// total number of orders the user has.
	ListByUser(ctx context.Context, userID string, page Page) ([]Order, int, error)
	// Save inserts o with its items and returns the stored order with ids
	// assigned.
	Save(ctx context.Context, o Order) (*Order, error)
	// ReplaceItems swaps the entire item set of an order and sets its total.
	ReplaceItems(ctx context.Context, orderID string, items []Item, total decimal.Decimal) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error)
}

// EventLog records domain events inside a transaction.
type EventLog interface {
	Append(ctx context.Context, e Event) error
}

// Tx is an open transaction. Every repository obtained from it operates
// inside the transaction. Rollback after a successful Commit is a no-op, so
// callers defer Rollback right after Begin.
type Tx interface {
	Products() product.Repository
	Orders() Repository
	Events() EventLog
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens transactions and serves non-transactional reads.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Orders() Repository
}

// Pagination defaults.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page selects a window of a list. Number is 1-based.
type Page struct {
	Number int
	Limit  int
}

// NewPage validates pagination input. Zero values select the defaults.
func NewPage(number, limit int) (Page, error) {
	if number == 0 {
		number = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if number < 1 {
		return Page{}, &InvalidPageError{Field: "page", Value: number}
	}
	if limit < 1 || limit > MaxPageLimit {
		return Page{}, &InvalidPageError{Field: "limit", Value: limit}
	}
	return Page{Number: number, Limit: limit}, nil
}

// Offset returns the number of rows preceding the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Pagination describes where a page sits in the full list.
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// Paginate computes the Pagination of p over total rows.
func Paginate(p Page, total int) Pagination {
	pages := (total + p.Limit - 1) / p.Limit
	return Pagination{
		Page:       p.Number,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Number < pages,
		HasPrev:    p.Number > 1,
	}
}
