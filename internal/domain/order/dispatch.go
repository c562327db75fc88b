package order

import (
	"context"

	"github.com/go-faster/errors"
)

// Request is one of the operations the Service accepts. The set is closed:
// only types in this package implement it.
type Request interface {
	request()
}

// CreateOrder places a new order for UserID.
type CreateOrder struct {
	UserID string
	Items  []LineItem
}

// UpdateOrderItems replaces the items of OrderID.
type UpdateOrderItems struct {
	OrderID string
	UserID  string
	Items   []LineItem
}

// UpdateOrderStatus moves OrderID to Status.
type UpdateOrderStatus struct {
	OrderID string
	UserID  string
	Status  Status
}

// GetOrder fetches a single order.
type GetOrder struct {
	OrderID string
	UserID  string
}

// ListOrders fetches a page of orders. Zero Page or Limit selects the
// default.
type ListOrders struct {
	UserID string
	Page   int
	Limit  int
}

func (CreateOrder) request()       {}
func (UpdateOrderItems) request()  {}
func (UpdateOrderStatus) request() {}
func (GetOrder) request()          {}
func (ListOrders) request()        {}

// Execute runs req and returns the result of the matching operation:
// *CreateResult, *UpdateItemsResult, *StatusResult, *Order or *ListResult.
func (s *Service) Execute(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case CreateOrder:
		return result(s.Create(ctx, r))
	case UpdateOrderItems:
		return result(s.UpdateItems(ctx, r))
	case UpdateOrderStatus:
		return result(s.UpdateStatus(ctx, r))
	case GetOrder:
		return result(s.Get(ctx, r))
	case ListOrders:
		return result(s.List(ctx, r))
	default:
		return nil, errors.Errorf("unsupported request %T", req)
	}
}

// result keeps a failed operation from surfacing as a typed nil.
func result[T any](v *T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
