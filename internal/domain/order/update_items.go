package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// UpdateItemsResult holds the order after its item set was replaced.
type UpdateItemsResult struct {
	Order *Order
}

// UpdateItems replaces the whole item set of an order owned by the caller.
//
// Stock is reconciled by net difference: the quantities of the current items
// are credited back, the new quantities debited, and each product with a
// non-zero net change is adjusted exactly once. New lines are priced at the
// current catalog price.
func (s *Service) UpdateItems(ctx context.Context, req UpdateOrderItems) (*UpdateItemsResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateItems", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("user.id", req.UserID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer span.End()

	o, err := s.updateItems(ctx, req)
	if err != nil {
		s.fail(ctx, span, "update_items", err)
		return nil, err
	}

	s.itemsUpdated.Add(ctx, 1)
	zctx.From(ctx).Info("Order items replaced",
		zap.String("order_id", o.ID),
		zap.Int("items", len(o.Items)),
		zap.Stringer("total", o.Total),
	)
	return &UpdateItemsResult{Order: o}, nil
}

func (s *Service) updateItems(ctx context.Context, req UpdateOrderItems) (*Order, error) {
	if err := validateLineItems(req.Items); err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := ownedOrder(ctx, tx.Orders().GetByIDForUpdate, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !current.CanChangeItems() {
		return nil, &NotMutableError{OrderID: current.ID, Status: current.Status}
	}

	// Net stock change per product: positive returns units to the catalog.
	changes := make(map[string]int, len(current.Items)+len(req.Items))
	for _, it := range current.Items {
		changes[it.ProductID] += it.Quantity
	}

	ids := make([]string, 0, len(changes)+len(req.Items))
	for id := range changes {
		ids = append(ids, id)
	}
	for _, li := range req.Items {
		ids = append(ids, li.ProductID)
	}
	locked, err := lockProducts(ctx, tx.Products(), dedupe(ids))
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(req.Items))
	for _, li := range req.Items {
		p, ok := locked[li.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: li.ProductID}
		}
		available := p.Stock + changes[li.ProductID]
		if available-li.Quantity < 0 {
			return nil, &InsufficientStockError{
				ProductID: li.ProductID,
				Available: available,
				Requested: li.Quantity,
			}
		}
		changes[li.ProductID] -= li.Quantity
		items = append(items, NewItem(li.ProductID, li.Quantity, p.Price))
	}

	for _, id := range sortedKeys(changes) {
		delta := changes[id]
		if delta == 0 {
			continue
		}
		p, ok := locked[id]
		if !ok {
			// Only old lines can reference a product that is gone; there is
			// nothing left to credit.
			zctx.From(ctx).Warn("Skipping stock credit for missing product",
				zap.String("order_id", current.ID),
				zap.String("product_id", id),
				zap.Int("delta", delta),
			)
			continue
		}
		if err := adjustStock(ctx, tx.Products(), id, delta, p.Stock); err != nil {
			return nil, err
		}
	}

	next := current.WithItems(items, s.now())
	updated, err := tx.Orders().ReplaceItems(ctx, current.ID, next.Items, next.Total)
	if err != nil {
		return nil, errors.Wrap(err, "replace items")
	}
	if err := tx.Events().Append(ctx, NewEvent(EventItemsUpdated, *updated, s.now())); err != nil {
		return nil, errors.Wrap(err, "append event")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return updated, nil
}

// ownedOrder loads an order through get and hides orders of other users.
func ownedOrder(
	ctx context.Context,
	get func(ctx context.Context, id string) (*Order, error),
	orderID, userID string,
) (*Order, error) {
	o, err := get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !o.OwnedBy(userID) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}
