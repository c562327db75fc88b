package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned by AdjustStock when applying the delta
	// would drive stock below zero. The stored stock is left unchanged.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// PricePlaces is the number of fraction digits a price may carry. Money is
// stored and published at this scale.
const PricePlaces = 2

// ErrPricePrecision is returned for prices finer than PricePlaces.
var ErrPricePrecision = errors.Errorf("price has more than %d decimal places", PricePlaces)

// ValidatePrice checks that price is non-negative and representable at
// PricePlaces without rounding.
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return errors.New("price must not be negative")
	}
	if !price.Equal(price.Round(PricePlaces)) {
		return ErrPricePrecision
	}
	return nil
}

// Product represents a catalog item available for purchase.
type Product struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Stock  int
	Active bool
}

// HasStock reports whether at least quantity units are on hand.
func (p Product) HasStock(quantity int) bool {
	return p.Stock >= quantity
}

// IsAvailable reports whether the product can currently be sold at all.
func (p Product) IsAvailable() bool {
	return p.Active && p.Stock > 0
}

// WithStock returns a copy of p holding the given stock level.
func (p Product) WithStock(stock int) Product {
	p.Stock = stock
	return p
}

// Repository defines the product operations order workflows depend on. When
// obtained from a transaction, every call runs inside that transaction.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDsForUpdate returns the products matching ids and holds a write
	// lock on each row until the surrounding transaction ends. Missing ids
	// are simply absent from the result.
	GetByIDsForUpdate(ctx context.Context, ids []string) ([]Product, error)
	Exists(ctx context.Context, id string) (bool, error)
	// AdjustStock atomically adds delta to the product stock and returns the
	// updated record. It fails with ErrInsufficientStock instead of going
	// negative and with ErrNotFound for unknown ids.
	AdjustStock(ctx context.Context, id string, delta int) (*Product, error)
}
