package order

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotal_Exact(t *testing.T) {
	items := []Item{
		NewItem("p1", 3, decimal.RequireFromString("0.10")),
		NewItem("p2", 1, decimal.RequireFromString("0.20")),
	}
	assert.True(t, decimal.RequireFromString("0.50").Equal(Total(items)))
	assert.True(t, Total(nil).IsZero())
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	items := []Item{
		NewItem("p1", 2, decimal.NewFromInt(100)),
		NewItem("p2", 1, decimal.RequireFromString("9.99")),
	}

	o := New("u1", items, now)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "209.99", o.Total.StringFixed(2))
	assert.Equal(t, 3, o.ItemCount())
	assert.Equal(t, now, o.CreatedAt)
	assert.Equal(t, now, o.UpdatedAt)

	items[0].Quantity = 50
	assert.Equal(t, 2, o.Items[0].Quantity, "order must not alias caller slice")
}

func TestWithItems_RecomputesTotal(t *testing.T) {
	created := time.Unix(100, 0)
	o := New("u1", []Item{NewItem("p1", 1, decimal.NewFromInt(5))}, created)

	later := created.Add(time.Minute)
	next := o.WithItems([]Item{NewItem("p2", 4, decimal.RequireFromString("2.50"))}, later)

	assert.Equal(t, "10.00", next.Total.StringFixed(2))
	assert.Equal(t, later, next.UpdatedAt)
	assert.Equal(t, created, next.CreatedAt)
	assert.Equal(t, "5", o.Total.String(), "original unchanged")
	assert.Equal(t, "p1", o.Items[0].ProductID)
}

func TestWithStatus_KeepsItemsAndTotal(t *testing.T) {
	o := New("u1", []Item{NewItem("p1", 2, decimal.NewFromInt(7))}, time.Unix(0, 0))
	next := o.WithStatus(StatusShipped, time.Unix(60, 0))

	assert.Equal(t, StatusShipped, next.Status)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.Total.Equal(next.Total))
	assert.Equal(t, o.Items, next.Items)
}

func TestStatusRules(t *testing.T) {
	tests := []struct {
		status      Status
		terminal    bool
		itemChanges bool
	}{
		{StatusPending, false, true},
		{StatusConfirmed, false, true},
		{StatusShipped, false, false},
		{StatusDelivered, true, false},
		{StatusCancelled, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			o := Order{Status: tt.status}
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, !tt.terminal, o.CanBeUpdated())
			assert.Equal(t, tt.itemChanges, o.CanChangeItems())
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("SHIPPED")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("shipped")
	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "shipped", statusErr.Status)
}

func TestNewPage(t *testing.T) {
	p, err := NewPage(0, 0)
	require.NoError(t, err)
	assert.Equal(t, Page{Number: 1, Limit: DefaultPageLimit}, p)
	assert.Equal(t, 0, p.Offset())

	p, err = NewPage(3, 25)
	require.NoError(t, err)
	assert.Equal(t, 50, p.Offset())

	for _, tc := range []struct {
		name         string
		number, size int
		field        string
	}{
		{"NegativePage", -1, 10, "page"},
		{"NegativeLimit", 1, -5, "limit"},
		{"LimitTooLarge", 1, MaxPageLimit + 1, "limit"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPage(tc.number, tc.size)
			var pageErr *InvalidPageError
			require.ErrorAs(t, err, &pageErr)
			assert.Equal(t, tc.field, pageErr.Field)
		})
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name    string
		page    Page
		total   int
		pages   int
		hasNext bool
		hasPrev bool
	}{
		{"Empty", Page{1, 10}, 0, 0, false, false},
		{"SinglePage", Page{1, 10}, 10, 1, false, false},
		{"FirstOfMany", Page{1, 10}, 21, 3, true, false},
		{"Middle", Page{2, 10}, 21, 3, true, true},
		{"Last", Page{3, 10}, 21, 3, false, true},
		{"PastEnd", Page{5, 10}, 21, 3, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(tt.page, tt.total)
			assert.Equal(t, tt.total, p.Total)
			assert.Equal(t, tt.pages, p.TotalPages)
			assert.Equal(t, tt.hasNext, p.HasNext)
			assert.Equal(t, tt.hasPrev, p.HasPrev)
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"EmptyItems", ErrEmptyItems, KindInput},
		{"Quantity", &InvalidQuantityError{ProductID: "p1"}, KindInput},
		{"Status", &InvalidStatusError{Status: "x"}, KindInput},
		{"Page", &InvalidPageError{Field: "limit", Value: 0}, KindInput},
		{"OrderNotFound", ErrOrderNotFound, KindNotFound},
		{"ProductNotFound", &ProductNotFoundError{ProductID: "p1"}, KindNotFound},
		{"Unavailable", &ProductUnavailableError{ProductID: "p1"}, KindRule},
		{"Stock", &InsufficientStockError{ProductID: "p1"}, KindRule},
		{"NotMutable", &NotMutableError{OrderID: "o1", Status: StatusShipped}, KindRule},
		{"Wrapped", errors.Wrap(&InsufficientStockError{}, "create"), KindRule},
		{"Other", errors.New("connection reset"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestNewEvent_Payload(t *testing.T) {
	o := New("u1", []Item{NewItem("p1", 2, decimal.NewFromInt(100))}, time.Unix(0, 0))
	o.ID = "o1"

	e := NewEvent(EventCreated, o, time.Unix(10, 0))
	assert.Equal(t, "o1", e.OrderID)
	assert.NotEmpty(t, e.ID)
	assert.JSONEq(t, `{
		"type": "order.created",
		"orderId": "o1",
		"userId": "u1",
		"status": "PENDING",
		"totalAmount": "200.00",
		"items": [{"productId": "p1", "quantity": 2, "unitPrice": "100.00"}]
	}`, string(e.Payload))

	e = NewEvent(EventStatusChanged, o.WithStatus(StatusConfirmed, time.Unix(20, 0)), time.Unix(20, 0))
	assert.JSONEq(t, `{
		"type": "order.status_changed",
		"orderId": "o1",
		"userId": "u1",
		"status": "CONFIRMED",
		"totalAmount": "200.00"
	}`, string(e.Payload))
}
