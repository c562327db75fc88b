package order

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !slices.Contains(Statuses, st) {
		return "", &InvalidStatusError{Status: s}
	}
	return st, nil
}

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// AllowsItemChanges reports whether the line items of an order in this
// status may still be replaced.
func (s Status) AllowsItemChanges() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) String() string { return string(s) }

// LineItem is a requested (product, quantity) pair, before pricing.
type LineItem struct {
	ProductID string
	Quantity  int
}

// Item is a priced line of an order. UnitPrice is the product price captured
// when the line was created and is never re-read from the catalog.
type Item struct {
	ID        string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

// NewItem builds an unsaved line item.
func NewItem(productID string, quantity int, unitPrice decimal.Decimal) Item {
	return Item{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
}

// Subtotal returns UnitPrice × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a customer order with its line items. Values are treated as
// immutable: transitions return a new Order.
type Order struct {
	ID        string
	UserID    string
	Status    Status
	Total     decimal.Decimal
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a PENDING order for userID whose total is derived from items.
func New(userID string, items []Item, now time.Time) Order {
	return Order{
		UserID:    userID,
		Status:    StatusPending,
		Total:     Total(items),
		Items:     slices.Clone(items),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total sums the subtotals of items exactly.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// ItemCount returns the number of units across all lines.
func (o Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// OwnedBy reports whether userID placed the order.
func (o Order) OwnedBy(userID string) bool {
	return o.UserID == userID
}

// CanBeUpdated reports whether the order accepts a status change.
func (o Order) CanBeUpdated() bool {
	return !o.Status.IsTerminal()
}

// CanChangeItems reports whether the order accepts a new item set.
func (o Order) CanChangeItems() bool {
	return o.Status.AllowsItemChanges()
}

// WithStatus returns a copy of o in the given status.
func (o Order) WithStatus(status Status, now time.Time) Order {
	o.Status = status
	o.UpdatedAt = now
	o.Items = slices.Clone(o.Items)
	return o
}

// WithItems returns a copy of o holding items, with the total recomputed.
func (o Order) WithItems(items []Item, now time.Time) Order {
	o.Items = slices.Clone(items)
	o.Total = Total(items)
	o.UpdatedAt = now
	return o
}
