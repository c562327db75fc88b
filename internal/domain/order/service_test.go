package order_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/storage/memory"
)

// --- Helpers ---

// clock ticks one second on every reading so orders get distinct timestamps.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store *memory.Store
	svc   *order.Service
}

func newFixture(t *testing.T, products ...product.Product) *fixture {
	t.Helper()

	c := newClock()
	store := memory.New(memory.WithClock(c.Now))
	for _, p := range products {
		store.PutProduct(p)
	}
	svc, err := order.NewService(store, order.WithClock(c.Now))
	require.NoError(t, err)
	return &fixture{store: store, svc: svc}
}

func newProduct(id, price string, stock int) product.Product {
	return product.Product{
		ID:     id,
		Name:   "Product " + id,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) create(t *testing.T, userID string, items ...order.LineItem) *order.Order {
	t.Helper()
	res, err := f.svc.Create(context.Background(), order.CreateOrder{UserID: userID, Items: items})
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) setStatus(t *testing.T, o *order.Order, status order.Status) {
	t.Helper()
	_, err := f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  status,
	})
	require.NoError(t, err)
}

func line(productID string, quantity int) order.LineItem {
	return order.LineItem{ProductID: productID, Quantity: quantity}
}

// --- Create ---

func TestCreate(t *testing.T) {
	f := newFixture(t, newProduct("p1", "100", 5))

	o := f.create(t, "u1", line("p1", 2))

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "200.00", o.Total.StringFixed(2))
	require.Len(t, o.Items, 1)
	assert.NotEmpty(t, o.Items[0].ID)
	assert.Equal(t, "100", o.Items[0].UnitPrice.String())
	assert.Equal(t, 3, f.stock(t, "p1"))

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, order.EventCreated, events[0].Type)
	assert.Equal(t, o.ID, events[0].OrderID)
}

func TestCreate_EmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), order.CreateOrder{UserID: "u1"})
	require.ErrorIs(t, err, order.ErrEmptyItems)
	assert.Equal(t, order.KindInput, order.KindOf(err))
}

func TestCreate_InvalidQuantity(t *testing.T) {
	f := newFixture(t, newProduct("p1", "10", 5))

	_, err := f.svc.Create(context.Background(), order.CreateOrder{
		UserID: "u1",
		Items:  []order.LineItem{line("p1", 1), line("p1", 0)},
	})

	var quantityErr *order.InvalidQuantityError
	require.ErrorAs(t, err, &quantityErr)
	assert.Equal(t, "p1", quantityErr.ProductID)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCreate_InsufficientStock(t *testing.T) {
	f := newFixture(t, newProduct("p1", "100", 2))

	_, err := f.svc.Create(context.Background(), order.CreateOrder{
		UserID: "u1",
		Items:  []order.LineItem{line("p1", 10)},
	})

	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 10, stockErr.Requested)
	assert.Equal(t, order.KindRule, order.KindOf(err))

	assert.Equal(t, 2, f.stock(t, "p1"))
	list, err := f.svc.List(context.Background(), order.ListOrders{UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, list.Pagination.Total)
	assert.Empty(t, f.store.Events())
}

func TestCreate_ChecksItemsInInputOrder(t *testing.T) {
	inactive := newProduct("off", "10", 5)
	inactive.Active = false

	tests := []struct {
		name  string
		items []order.LineItem
		check func(t *testing.T, err error)
	}{
		{
			name:  "MissingBeforeInactive",
			items: []order.LineItem{line("missing", 1), line("off", 1)},
			check: func(t *testing.T, err error) {
				var notFound *order.ProductNotFoundError
				require.ErrorAs(t, err, &notFound)
				assert.Equal(t, "missing", notFound.ProductID)
			},
		},
		{
			name:  "InactiveBeforeMissing",
			items: []order.LineItem{line("off", 1), line("missing", 1)},
			check: func(t *testing.T, err error) {
				var unavailable *order.ProductUnavailableError
				require.ErrorAs(t, err, &unavailable)
				assert.Equal(t, "off", unavailable.ProductID)
			},
		},
		{
			name:  "StockBeforeLaterMissing",
			items: []order.LineItem{line("p1", 9), line("missing", 1)},
			check: func(t *testing.T, err error) {
				var stockErr *order.InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, inactive, newProduct("p1", "1", 3))
			_, err := f.svc.Create(context.Background(), order.CreateOrder{UserID: "u1", Items: tt.items})
			tt.check(t, err)
			assert.Equal(t, 3, f.stock(t, "p1"))
			assert.Equal(t, 5, f.stock(t, "off"))
		})
	}
}

func TestCreate_DuplicateLinesShareStock(t *testing.T) {
	f := newFixture(t, newProduct("p1", "1", 5))

	_, err := f.svc.Create(context.Background(), order.CreateOrder{
		UserID: "u1",
		Items:  []order.LineItem{line("p1", 3), line("p1", 3)},
	})

	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 5, f.stock(t, "p1"))

	o := f.create(t, "u1", line("p1", 2), line("p1", 3))
	assert.Len(t, o.Items, 2)
	assert.Equal(t, 0, f.stock(t, "p1"))
}

func TestCreate_SnapshotsPrice(t *testing.T) {
	f := newFixture(t, newProduct("p1", "10.00", 5))
	o := f.create(t, "u1", line("p1", 1))

	f.store.PutProduct(newProduct("p1", "99.00", 4))

	got, err := f.svc.Get(context.Background(), order.GetOrder{OrderID: o.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "10.00", got.Total.StringFixed(2))
}

// --- UpdateItems ---

func TestUpdateItems_AppliesNetDelta(t *testing.T) {
	f := newFixture(t, newProduct("A", "10", 12))
	o := f.create(t, "u1", line("A", 2))
	require.Equal(t, 10, f.stock(t, "A"))

	res, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID,
		UserID:  "u1",
		Items:   []order.LineItem{line("A", 5)},
	})
	require.NoError(t, err)

	assert.Equal(t, 7, f.stock(t, "A"))
	assert.Equal(t, "50.00", res.Order.Total.StringFixed(2))
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 5, res.Order.Items[0].Quantity)
}

func TestUpdateItems_ReusesOwnReservation(t *testing.T) {
	// The order holds all 4 units; growing to 6 needs 2 more from a stock of 2.
	f := newFixture(t, newProduct("A", "1", 6))
	o := f.create(t, "u1", line("A", 4))

	_, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID, UserID: "u1", Items: []order.LineItem{line("A", 6)},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.stock(t, "A"))

	_, err = f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID, UserID: "u1", Items: []order.LineItem{line("A", 7)},
	})
	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Available)
	assert.Equal(t, 7, stockErr.Requested)
}

func TestUpdateItems_CreditsDroppedProducts(t *testing.T) {
	f := newFixture(t,
		newProduct("p-old", "5", 10),
		newProduct("p-keep", "3", 10),
		newProduct("p-new", "7", 10),
	)
	o := f.create(t, "u1", line("p-old", 4), line("p-keep", 2))
	require.Equal(t, 6, f.stock(t, "p-old"))
	require.Equal(t, 8, f.stock(t, "p-keep"))

	res, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID,
		UserID:  "u1",
		Items:   []order.LineItem{line("p-keep", 1), line("p-new", 3)},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, f.stock(t, "p-old"))
	assert.Equal(t, 9, f.stock(t, "p-keep"))
	assert.Equal(t, 7, f.stock(t, "p-new"))
	assert.Equal(t, "24.00", res.Order.Total.StringFixed(2))
	assert.Equal(t, 4, res.Order.ItemCount())
}

func TestUpdateItems_FailureLeavesEverythingUnchanged(t *testing.T) {
	f := newFixture(t,
		newProduct("A", "1", 10),
		newProduct("B", "2", 5),
		newProduct("C", "3", 10),
	)
	o := f.create(t, "u1", line("A", 1))
	before, err := f.svc.Get(context.Background(), order.GetOrder{OrderID: o.ID, UserID: "u1"})
	require.NoError(t, err)

	_, err = f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID,
		UserID:  "u1",
		Items:   []order.LineItem{line("A", 2), line("B", 100), line("C", 1)},
	})
	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "B", stockErr.ProductID)

	assert.Equal(t, 9, f.stock(t, "A"))
	assert.Equal(t, 5, f.stock(t, "B"))
	assert.Equal(t, 10, f.stock(t, "C"))

	after, err := f.svc.Get(context.Background(), order.GetOrder{OrderID: o.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, f.store.Events(), 1)
}

func TestUpdateItems_RepricesAtCurrentPrice(t *testing.T) {
	f := newFixture(t, newProduct("A", "10.00", 10))
	o := f.create(t, "u1", line("A", 2))

	f.store.PutProduct(newProduct("A", "12.50", f.stock(t, "A")))

	res, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID, UserID: "u1", Items: []order.LineItem{line("A", 2)},
	})
	require.NoError(t, err)

	// Creation snapshots the price; replacing items re-reads it.
	assert.Equal(t, "20.00", o.Total.StringFixed(2))
	assert.Equal(t, "25.00", res.Order.Total.StringFixed(2))
	assert.Equal(t, "12.50", res.Order.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, 8, f.stock(t, "A"))
}

func TestUpdateItems_AcceptsInactiveProduct(t *testing.T) {
	f := newFixture(t, newProduct("A", "1", 10), newProduct("B", "1", 10))
	o := f.create(t, "u1", line("A", 1))

	inactive := newProduct("B", "1", 10)
	inactive.Active = false
	f.store.PutProduct(inactive)

	_, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: o.ID, UserID: "u1", Items: []order.LineItem{line("B", 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, f.stock(t, "B"))
}

func TestUpdateItems_Rejections(t *testing.T) {
	f := newFixture(t, newProduct("A", "1", 100))
	pending := f.create(t, "u1", line("A", 1))
	shipped := f.create(t, "u1", line("A", 1))
	f.setStatus(t, shipped, order.StatusShipped)
	confirmed := f.create(t, "u1", line("A", 1))
	f.setStatus(t, confirmed, order.StatusConfirmed)

	tests := []struct {
		name  string
		req   order.UpdateOrderItems
		check func(t *testing.T, err error)
	}{
		{
			name: "UnknownOrder",
			req:  order.UpdateOrderItems{OrderID: "nope", UserID: "u1", Items: []order.LineItem{line("A", 1)}},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, order.ErrOrderNotFound)
			},
		},
		{
			name: "OtherUser",
			req:  order.UpdateOrderItems{OrderID: pending.ID, UserID: "u2", Items: []order.LineItem{line("A", 1)}},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, order.ErrOrderNotFound)
			},
		},
		{
			name: "Shipped",
			req:  order.UpdateOrderItems{OrderID: shipped.ID, UserID: "u1", Items: []order.LineItem{line("A", 1)}},
			check: func(t *testing.T, err error) {
				var mutableErr *order.NotMutableError
				require.ErrorAs(t, err, &mutableErr)
				assert.Equal(t, order.StatusShipped, mutableErr.Status)
			},
		},
		{
			name: "UnknownProduct",
			req:  order.UpdateOrderItems{OrderID: pending.ID, UserID: "u1", Items: []order.LineItem{line("ghost", 1)}},
			check: func(t *testing.T, err error) {
				var notFound *order.ProductNotFoundError
				require.ErrorAs(t, err, &notFound)
			},
		},
		{
			name: "Empty",
			req:  order.UpdateOrderItems{OrderID: pending.ID, UserID: "u1"},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, order.ErrEmptyItems)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateItems(context.Background(), tt.req)
			tt.check(t, err)
			assert.Equal(t, 97, f.stock(t, "A"))
		})
	}

	_, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
		OrderID: confirmed.ID, UserID: "u1", Items: []order.LineItem{line("A", 3)},
	})
	require.NoError(t, err, "confirmed orders still accept item changes")
	assert.Equal(t, 95, f.stock(t, "A"))
}

// --- UpdateStatus ---

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, newProduct("A", "4", 10))
	o := f.create(t, "u1", line("A", 2))

	res, err := f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
		OrderID: o.ID, UserID: "u1", Status: order.StatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, o.ID, res.OrderID)
	assert.Equal(t, order.StatusConfirmed, res.Status)
	assert.True(t, res.Order.UpdatedAt.After(o.UpdatedAt))
	assert.True(t, o.Total.Equal(res.Order.Total))
	assert.Equal(t, o.Items, res.Order.Items)
	assert.Equal(t, 8, f.stock(t, "A"))

	events := f.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, order.EventStatusChanged, events[1].Type)
}

func TestUpdateStatus_TerminalRejectsEveryTarget(t *testing.T) {
	for _, terminal := range []order.Status{order.StatusDelivered, order.StatusCancelled} {
		for _, target := range order.Statuses {
			t.Run(terminal.String()+"_to_"+target.String(), func(t *testing.T) {
				f := newFixture(t, newProduct("A", "1", 10))
				o := f.create(t, "u1", line("A", 1))
				f.setStatus(t, o, terminal)

				_, err := f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
					OrderID: o.ID, UserID: "u1", Status: target,
				})
				var mutableErr *order.NotMutableError
				require.ErrorAs(t, err, &mutableErr)
				assert.Equal(t, terminal, mutableErr.Status)

				got, err := f.svc.Get(context.Background(), order.GetOrder{OrderID: o.ID, UserID: "u1"})
				require.NoError(t, err)
				assert.Equal(t, terminal, got.Status)
			})
		}
	}
}

// Only terminal statuses are enforced, so any non-terminal order can jump to
// any status. A stricter transition table would reject these.
func TestUpdateStatus_NonTerminalAcceptsAnyTarget(t *testing.T) {
	tests := []struct{ from, to order.Status }{
		{order.StatusShipped, order.StatusCancelled},
		{order.StatusPending, order.StatusDelivered},
		{order.StatusShipped, order.StatusPending},
		{order.StatusConfirmed, order.StatusConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			f := newFixture(t, newProduct("A", "1", 10))
			o := f.create(t, "u1", line("A", 1))
			if tt.from != order.StatusPending {
				f.setStatus(t, o, tt.from)
			}

			res, err := f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
				OrderID: o.ID, UserID: "u1", Status: tt.to,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.to, res.Status)
		})
	}
}

func TestUpdateStatus_Rejections(t *testing.T) {
	f := newFixture(t, newProduct("A", "1", 10))
	o := f.create(t, "u1", line("A", 1))

	_, err := f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
		OrderID: o.ID, UserID: "u2", Status: order.StatusConfirmed,
	})
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
		OrderID: "missing", UserID: "u1", Status: order.StatusConfirmed,
	})
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), order.UpdateOrderStatus{
		OrderID: o.ID, UserID: "u1", Status: "LOST",
	})
	var statusErr *order.InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestCancel_DoesNotRestock(t *testing.T) {
	f := newFixture(t, newProduct("A", "1", 10))
	o := f.create(t, "u1", line("A", 4))

	res, err := f.svc.Cancel(context.Background(), o.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, res.Status)
	assert.Equal(t, 6, f.stock(t, "A"))
}

// --- Queries ---

func TestGet(t *testing.T) {
	f := newFixture(t, newProduct("A", "2.50", 10))
	o := f.create(t, "u1", line("A", 2))

	got, err := f.svc.Get(context.Background(), order.GetOrder{OrderID: o.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, "5.00", got.Total.StringFixed(2))

	_, err = f.svc.Get(context.Background(), order.GetOrder{OrderID: o.ID, UserID: "u2"})
	require.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Equal(t, order.KindNotFound, order.KindOf(err))
}

func TestList(t *testing.T) {
	f := newFixture(t, newProduct("A", "1", 100))
	var ids []string
	for range 5 {
		ids = append(ids, f.create(t, "u1", line("A", 1)).ID)
	}
	f.create(t, "u2", line("A", 1))

	first, err := f.svc.List(context.Background(), order.ListOrders{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Orders, 2)
	assert.Equal(t, ids[4], first.Orders[0].ID, "newest first")
	assert.Equal(t, ids[3], first.Orders[1].ID)
	assert.Equal(t, order.Pagination{
		Page: 1, Limit: 2, Total: 5, TotalPages: 3, HasNext: true, HasPrev: false,
	}, first.Pagination)

	last, err := f.svc.List(context.Background(), order.ListOrders{UserID: "u1", Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, last.Orders, 1)
	assert.Equal(t, ids[0], last.Orders[0].ID)
	assert.False(t, last.Pagination.HasNext)
	assert.True(t, last.Pagination.HasPrev)

	none, err := f.svc.List(context.Background(), order.ListOrders{UserID: "u3"})
	require.NoError(t, err)
	assert.NotNil(t, none.Orders)
	assert.Empty(t, none.Orders)
	assert.Equal(t, order.DefaultPageLimit, none.Pagination.Limit)

	_, err = f.svc.List(context.Background(), order.ListOrders{UserID: "u1", Limit: 101})
	var pageErr *order.InvalidPageError
	require.ErrorAs(t, err, &pageErr)
}

// --- Dispatch ---

func TestExecute(t *testing.T) {
	f := newFixture(t, newProduct("A", "3", 10))
	ctx := context.Background()

	out, err := f.svc.Execute(ctx, order.CreateOrder{UserID: "u1", Items: []order.LineItem{line("A", 1)}})
	require.NoError(t, err)
	created, ok := out.(*order.CreateResult)
	require.True(t, ok)
	id := created.Order.ID

	out, err = f.svc.Execute(ctx, order.UpdateOrderItems{OrderID: id, UserID: "u1", Items: []order.LineItem{line("A", 2)}})
	require.NoError(t, err)
	assert.IsType(t, &order.UpdateItemsResult{}, out)

	out, err = f.svc.Execute(ctx, order.UpdateOrderStatus{OrderID: id, UserID: "u1", Status: order.StatusConfirmed})
	require.NoError(t, err)
	assert.IsType(t, &order.StatusResult{}, out)

	out, err = f.svc.Execute(ctx, order.GetOrder{OrderID: id, UserID: "u1"})
	require.NoError(t, err)
	assert.IsType(t, &order.Order{}, out)

	out, err = f.svc.Execute(ctx, order.ListOrders{UserID: "u1"})
	require.NoError(t, err)
	assert.IsType(t, &order.ListResult{}, out)

	out, err = f.svc.Execute(ctx, order.GetOrder{OrderID: "missing", UserID: "u1"})
	require.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Nil(t, out)
}

// --- Concurrency ---

func TestCreate_ConcurrentNeverOversells(t *testing.T) {
	const stock, buyers = 10, 40
	f := newFixture(t, newProduct("A", "1", stock))

	var placed atomic.Int64
	var g errgroup.Group
	for i := range buyers {
		g.Go(func() error {
			_, err := f.svc.Create(context.Background(), order.CreateOrder{
				UserID: "u1",
				Items:  []order.LineItem{line("A", 1+i%2)},
			})
			var stockErr *order.InsufficientStockError
			switch {
			case err == nil:
				placed.Add(int64(1 + i%2))
				return nil
			case errors.As(err, &stockErr):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	remaining := f.stock(t, "A")
	assert.GreaterOrEqual(t, remaining, 0)
	assert.Equal(t, stock, remaining+int(placed.Load()))
}

func TestUpdateItems_ConcurrentWithCreate(t *testing.T) {
	f := newFixture(t, newProduct("A", "1", 20))
	orders := make([]*order.Order, 5)
	for i := range orders {
		orders[i] = f.create(t, "u1", line("A", 1))
	}

	var g errgroup.Group
	for _, o := range orders {
		g.Go(func() error {
			_, err := f.svc.UpdateItems(context.Background(), order.UpdateOrderItems{
				OrderID: o.ID, UserID: "u1", Items: []order.LineItem{line("A", 4)},
			})
			if order.KindOf(err) == order.KindRule {
				return nil
			}
			return err
		})
		g.Go(func() error {
			_, err := f.svc.Create(context.Background(), order.CreateOrder{
				UserID: "u2", Items: []order.LineItem{line("A", 2)},
			})
			if order.KindOf(err) == order.KindRule {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	reserved := 0
	for _, uid := range []string{"u1", "u2"} {
		list, err := f.svc.List(context.Background(), order.ListOrders{UserID: uid, Limit: order.MaxPageLimit})
		require.NoError(t, err)
		for _, o := range list.Orders {
			reserved += o.ItemCount()
		}
	}
	assert.GreaterOrEqual(t, f.stock(t, "A"), 0)
	assert.Equal(t, 20, f.stock(t, "A")+reserved)
}
