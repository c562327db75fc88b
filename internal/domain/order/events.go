package order

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventItemsUpdated  EventType = "order.items_updated"
	EventStatusChanged EventType = "order.status_changed"
)

// Event is a domain event recorded in the same transaction as the change
// that produced it.
type Event struct {
	ID         string
	Type       EventType
	OrderID    string
	Payload    []byte
	OccurredAt time.Time
}

// NewEvent snapshots o into an event of type t.
func NewEvent(t EventType, o Order, now time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		OrderID:    o.ID,
		Payload:    encodeEventPayload(t, o),
		OccurredAt: now,
	}
}

func encodeEventPayload(t EventType, o Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(t))
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("totalAmount")
	e.Str(o.Total.StringFixed(2))
	if t != EventStatusChanged {
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.FieldStart("productId")
			e.Str(it.ProductID)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.FieldStart("unitPrice")
			e.Str(it.UnitPrice.StringFixed(2))
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
	return e.Bytes()
}
