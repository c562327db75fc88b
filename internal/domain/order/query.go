package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ListResult is one page of a user's orders.
type ListResult struct {
	Orders     []Order
	Pagination Pagination
}

// Get returns an order owned by the caller. Foreign orders are reported as
// ErrOrderNotFound.
func (s *Service) Get(ctx context.Context, req GetOrder) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Get", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	o, err := ownedOrder(ctx, s.store.Orders().GetByID, req.OrderID, req.UserID)
	if err != nil {
		s.fail(ctx, span, "get", err)
		return nil, err
	}
	return o, nil
}

// List returns one page of the caller's orders, newest first.
func (s *Service) List(ctx context.Context, req ListOrders) (*ListResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.List", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("page", req.Page),
		attribute.Int("limit", req.Limit),
	))
	defer span.End()

	res, err := s.list(ctx, req)
	if err != nil {
		s.fail(ctx, span, "list", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders.total", res.Pagination.Total))
	return res, nil
}

func (s *Service) list(ctx context.Context, req ListOrders) (*ListResult, error) {
	page, err := NewPage(req.Page, req.Limit)
	if err != nil {
		return nil, err
	}
	orders, total, err := s.store.Orders().ListByUser(ctx, req.UserID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if orders == nil {
		orders = []Order{}
	}
	return &ListResult{
		Orders:     orders,
		Pagination: Paginate(page, total),
	}, nil
}
