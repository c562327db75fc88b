package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/ogen-go/ogen/validate"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	maxBodyBytes = 1 << 20
	maxLineItems = 100
)

// bodyError is a request body that could not be read or decoded.
type bodyError struct {
	err error
}

func (e *bodyError) Error() string { return "invalid request body: " + e.err.Error() }

func (e *bodyError) Unwrap() error { return e.err }

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &bodyError{err: err}
	}
	if len(data) == 0 {
		return nil, &bodyError{err: errors.New("empty body")}
	}
	return data, nil
}

// decodeItemsRequest decodes {"items": [{"productId": "...", "quantity": n}]}.
// Quantity and emptiness rules are left to the order service.
func decodeItemsRequest(data []byte) ([]order.LineItem, error) {
	var (
		items    []order.LineItem
		failures []validate.FieldError
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "items" {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Arr(func(d *jx.Decoder) error {
			idx := len(items)
			var (
				li          order.LineItem
				hasQuantity bool
			)
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "productId":
					v, err := d.Str()
					li.ProductID = v
					return err
				case "quantity":
					v, err := d.Int()
					li.Quantity = v
					hasQuantity = true
					return err
				default:
					return d.Skip()
				}
			}); err != nil {
				return err
			}
			if err := (validate.String{MinLength: 1, MinLengthSet: true}).Validate(li.ProductID); err != nil {
				failures = append(failures, validate.FieldError{
					Name:  fmt.Sprintf("items[%d].productId", idx),
					Error: validate.ErrFieldRequired,
				})
			}
			if !hasQuantity {
				failures = append(failures, validate.FieldError{
					Name:  fmt.Sprintf("items[%d].quantity", idx),
					Error: validate.ErrFieldRequired,
				})
			}
			items = append(items, li)
			return nil
		})
	})
	if err != nil {
		return nil, &bodyError{err: err}
	}
	if err := (validate.Array{MaxLength: maxLineItems, MaxLengthSet: true}).ValidateLength(len(items)); err != nil {
		failures = append(failures, validate.FieldError{Name: "items", Error: err})
	}
	if len(failures) > 0 {
		return nil, &validate.Error{Fields: failures}
	}
	return items, nil
}

// decodeStatusRequest decodes {"status": "SHIPPED"}.
func decodeStatusRequest(data []byte) (order.Status, error) {
	var status string
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		status = v
		return err
	})
	if err != nil {
		return "", &bodyError{err: err}
	}
	if status == "" {
		return "", &validate.Error{Fields: []validate.FieldError{
			{Name: "status", Error: validate.ErrFieldRequired},
		}}
	}
	return order.ParseStatus(status)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("totalAmount")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("itemCount")
	e.Int(o.ItemCount())
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		e.Str(it.UnitPrice.StringFixed(2))
		e.FieldStart("subtotal")
		e.Str(it.Subtotal().StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

func encodeList(e *jx.Encoder, l *order.ListResult) {
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range l.Orders {
		encodeOrder(e, &l.Orders[i])
	}
	e.ArrEnd()

	p := l.Pagination
	e.FieldStart("pagination")
	e.ObjStart()
	e.FieldStart("page")
	e.Int(p.Page)
	e.FieldStart("limit")
	e.Int(p.Limit)
	e.FieldStart("total")
	e.Int(p.Total)
	e.FieldStart("totalPages")
	e.Int(p.TotalPages)
	e.FieldStart("hasNext")
	e.Bool(p.HasNext)
	e.FieldStart("hasPrev")
	e.Bool(p.HasPrev)
	e.ObjEnd()
	e.ObjEnd()
}

// encodeResult encodes the result of order.Service.Execute.
func encodeResult(e *jx.Encoder, v any) error {
	switch res := v.(type) {
	case *order.CreateResult:
		encodeOrder(e, res.Order)
	case *order.UpdateItemsResult:
		encodeOrder(e, res.Order)
	case *order.StatusResult:
		encodeOrder(e, res.Order)
	case *order.Order:
		encodeOrder(e, res)
	case *order.ListResult:
		encodeList(e, res)
	default:
		return errors.Errorf("unexpected result %T", v)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}
