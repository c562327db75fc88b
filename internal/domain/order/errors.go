package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order workflows.
var (
	ErrEmptyItems = errors.New("items required")
	// ErrOrderNotFound is also returned when the order belongs to another
	// user, so callers cannot probe for foreign order ids.
	ErrOrderNotFound = errors.New("order not found")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// ProductUnavailableError indicates the product exists but is not sold.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// InsufficientStockError indicates a line asks for more units than are free.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// NotMutableError indicates the order status forbids the requested change.
type NotMutableError struct {
	OrderID string
	Status  Status
}

func (e *NotMutableError) Error() string {
	return fmt.Sprintf("order %s cannot be updated in status %s", e.OrderID, e.Status)
}

// InvalidStatusError indicates an unknown status value.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

// InvalidPageError indicates out-of-range pagination input.
type InvalidPageError struct {
	Field string
	Value int
}

func (e *InvalidPageError) Error() string {
	return fmt.Sprintf("invalid %s: %d", e.Field, e.Value)
}

// Kind classifies workflow failures for callers.
type Kind int

const (
	// KindInternal covers store and transaction failures.
	KindInternal Kind = iota
	// KindInput is a malformed request rejected before touching the store.
	KindInput
	// KindNotFound covers missing (or foreign) orders and missing products.
	KindNotFound
	// KindRule is a well-formed request rejected by a business rule.
	KindRule
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindNotFound:
		return "not_found"
	case KindRule:
		return "rule"
	default:
		return "internal"
	}
}

// KindOf returns the Kind of err. Unrecognised errors are KindInternal.
func KindOf(err error) Kind {
	var (
		quantityErr    *InvalidQuantityError
		statusErr      *InvalidStatusError
		pageErr        *InvalidPageError
		productErr     *ProductNotFoundError
		unavailableErr *ProductUnavailableError
		stockErr       *InsufficientStockError
		mutableErr     *NotMutableError
	)
	switch {
	case errors.Is(err, ErrEmptyItems),
		errors.As(err, &quantityErr),
		errors.As(err, &statusErr),
		errors.As(err, &pageErr):
		return KindInput
	case errors.Is(err, ErrOrderNotFound),
		errors.As(err, &productErr):
		return KindNotFound
	case errors.As(err, &unavailableErr),
		errors.As(err, &stockErr),
		errors.As(err, &mutableErr):
		return KindRule
	default:
		return KindInternal
	}
}
