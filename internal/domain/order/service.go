package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/product"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// Service encapsulates order placement, mutation and status business logic.
type Service struct {
	store Store
	now   func() time.Time

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer

	created       metric.Int64Counter
	itemsUpdated  metric.Int64Counter
	statusChanged metric.Int64Counter
	rejected      metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// NewService creates an order Service on top of the given store.
func NewService(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:          store,
		now:            time.Now,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracer = s.tracerProvider.Tracer(instrumentationName)

	meter := s.meterProvider.Meter(instrumentationName)
	var err error
	if s.created, err = meter.Int64Counter("kart.orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if s.itemsUpdated, err = meter.Int64Counter("kart.orders.items_updated",
		metric.WithDescription("Orders whose item set was replaced"),
	); err != nil {
		return nil, errors.Wrap(err, "orders items updated counter")
	}
	if s.statusChanged, err = meter.Int64Counter("kart.orders.status_changed",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders status changed counter")
	}
	if s.rejected, err = meter.Int64Counter("kart.orders.rejected",
		metric.WithDescription("Order operations that failed, by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "orders rejected counter")
	}
	return s, nil
}

// CreateResult holds the output of a successfully placed order.
type CreateResult struct {
	Order *Order
}

// Create validates items against the live catalog, reserves stock, and
// persists a PENDING order. Nothing is written unless every item passes.
func (s *Service) Create(ctx context.Context, req CreateOrder) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer span.End()

	o, err := s.create(ctx, req)
	if err != nil {
		s.fail(ctx, span, "create", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", o.ID))
	s.created.Add(ctx, 1)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Stringer("total", o.Total),
	)
	return &CreateResult{Order: o}, nil
}

func (s *Service) create(ctx context.Context, req CreateOrder) (*Order, error) {
	if err := validateLineItems(req.Items); err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := lockProducts(ctx, tx.Products(), lineProductIDs(req.Items))
	if err != nil {
		return nil, err
	}

	// Units already claimed by earlier lines of this request, per product.
	debits := make(map[string]int, len(locked))
	items := make([]Item, 0, len(req.Items))
	for _, li := range req.Items {
		p, ok := locked[li.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: li.ProductID}
		}
		if !p.Active {
			return nil, &ProductUnavailableError{ProductID: li.ProductID}
		}
		available := p.Stock - debits[li.ProductID]
		if available < li.Quantity {
			return nil, &InsufficientStockError{
				ProductID: li.ProductID,
				Available: available,
				Requested: li.Quantity,
			}
		}
		debits[li.ProductID] += li.Quantity
		items = append(items, NewItem(li.ProductID, li.Quantity, p.Price))
	}

	for _, id := range sortedKeys(debits) {
		if err := adjustStock(ctx, tx.Products(), id, -debits[id], locked[id].Stock); err != nil {
			return nil, err
		}
	}

	saved, err := tx.Orders().Save(ctx, New(req.UserID, items, s.now()))
	if err != nil {
		return nil, errors.Wrap(err, "save order")
	}
	if err := tx.Events().Append(ctx, NewEvent(EventCreated, *saved, s.now())); err != nil {
		return nil, errors.Wrap(err, "append event")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return saved, nil
}

// fail records a failed operation on the span, the rejection counter and
// the request log.
func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) {
	kind := KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind.String()),
	))

	lg := zctx.From(ctx)
	switch kind {
	case KindInternal:
		lg.Error("Order operation failed", zap.String("op", op), zap.Error(err))
	default:
		lg.Warn("Order operation rejected",
			zap.String("op", op),
			zap.Stringer("kind", kind),
			zap.Error(err),
		)
	}
}

func validateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}
	for _, li := range items {
		if li.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: li.ProductID, Quantity: li.Quantity}
		}
	}
	return nil
}

// lockProducts locks every product in ids and indexes them by id.
func lockProducts(ctx context.Context, products product.Repository, ids []string) (map[string]product.Product, error) {
	fetched, err := products.GetByIDsForUpdate(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	locked := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		locked[p.ID] = p
	}
	return locked, nil
}

// adjustStock applies delta to one product. known is the stock level read
// under lock, reported if the store refuses the write anyway.
func adjustStock(ctx context.Context, products product.Repository, id string, delta, known int) error {
	_, err := products.AdjustStock(ctx, id, delta)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, product.ErrInsufficientStock):
		return &InsufficientStockError{ProductID: id, Available: known, Requested: -delta}
	case errors.Is(err, product.ErrNotFound):
		return &ProductNotFoundError{ProductID: id}
	default:
		return errors.Wrapf(err, "adjust stock of %s", id)
	}
}

func lineProductIDs(items []LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, li := range items {
		ids = append(ids, li.ProductID)
	}
	return dedupe(ids)
}

// dedupe sorts ids in place and drops repeats. Locks are always taken in
// this order.
func dedupe(ids []string) []string {
	slices.Sort(ids)
	return slices.Compact(ids)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
