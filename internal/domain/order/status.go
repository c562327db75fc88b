package order

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StatusResult holds the outcome of a status transition.
type StatusResult struct {
	OrderID string
	Status  Status
	Order   *Order
}

// UpdateStatus moves an order owned by the caller to req.Status.
//
// Any non-terminal order may move to any status; DELIVERED and CANCELLED
// reject every further transition. Items, total and stock are untouched.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateOrderStatus) (*StatusResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("user.id", req.UserID),
		attribute.String("order.status.target", string(req.Status)),
	))
	defer span.End()

	from, o, err := s.updateStatus(ctx, req)
	if err != nil {
		s.fail(ctx, span, "update_status", err)
		return nil, err
	}

	s.statusChanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", o.Status.String()),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", o.Status),
	)
	return &StatusResult{OrderID: o.ID, Status: o.Status, Order: o}, nil
}

// Cancel moves an order owned by the caller to CANCELLED.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) (*StatusResult, error) {
	return s.UpdateStatus(ctx, UpdateOrderStatus{
		OrderID: orderID,
		UserID:  userID,
		Status:  StatusCancelled,
	})
}

func (s *Service) updateStatus(ctx context.Context, req UpdateOrderStatus) (Status, *Order, error) {
	if !slices.Contains(Statuses, req.Status) {
		return "", nil, &InvalidStatusError{Status: string(req.Status)}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := ownedOrder(ctx, tx.Orders().GetByIDForUpdate, req.OrderID, req.UserID)
	if err != nil {
		return "", nil, err
	}
	if !current.CanBeUpdated() {
		return "", nil, &NotMutableError{OrderID: current.ID, Status: current.Status}
	}

	updated, err := tx.Orders().UpdateStatus(ctx, current.ID, req.Status)
	if err != nil {
		return "", nil, errors.Wrap(err, "update status")
	}
	if err := tx.Events().Append(ctx, NewEvent(EventStatusChanged, *updated, s.now())); err != nil {
		return "", nil, errors.Wrap(err, "append event")
	}
	if err := tx.Commit(ctx); err != nil {
		return "", nil, errors.Wrap(err, "commit")
	}
	return current.Status, updated, nil
}
