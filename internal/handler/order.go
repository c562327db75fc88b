package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/ogen-go/ogen/validate"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/pkg/idempotency"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	userID := mustUser(r)
	data, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := decodeItemsRequest(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req := order.CreateOrder{UserID: userID, Items: items}

	key := r.Header.Get(idempotency.Header)
	if h.idem == nil || key == "" {
		h.execute(w, r, http.StatusCreated, req)
		return
	}
	h.createIdempotent(w, r, req, key)
}

// createIdempotent runs req at most once per user and Idempotency-Key.
// Replays get 409 with the id of the order created by the first request.
func (h *Handler) createIdempotent(w http.ResponseWriter, r *http.Request, req order.CreateOrder, rawKey string) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	key, err := h.idem.Key("orders:"+req.UserID, rawKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.idem.Reserve(ctx, key)
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "reserve idempotency key"))
		return
	}
	if !res.Acquired {
		lg.Info("Idempotent replay", zap.String("order_id", res.ResourceID))
		writeConflict(w, res.ResourceID)
		return
	}

	created, err := h.orders.Create(ctx, req)
	if err != nil {
		if err := h.idem.Release(context.WithoutCancel(ctx), key); err != nil {
			lg.Warn("Release idempotency key", zap.Error(err))
		}
		h.fail(w, r, err)
		return
	}
	if err := h.idem.Complete(context.WithoutCancel(ctx), key, created.Order.ID); err != nil {
		lg.Warn("Complete idempotency key", zap.Error(err))
	}

	var e jx.Encoder
	encodeOrder(&e, created.Order)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.execute(w, r, http.StatusOK, order.ListOrders{
		UserID: mustUser(r),
		Page:   page,
		Limit:  limit,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, http.StatusOK, order.GetOrder{
		OrderID: chi.URLParam(r, "id"),
		UserID:  mustUser(r),
	})
}

func (h *Handler) updateItems(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := decodeItemsRequest(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.execute(w, r, http.StatusOK, order.UpdateOrderItems{
		OrderID: chi.URLParam(r, "id"),
		UserID:  mustUser(r),
		Items:   items,
	})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := decodeStatusRequest(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.execute(w, r, http.StatusOK, order.UpdateOrderStatus{
		OrderID: chi.URLParam(r, "id"),
		UserID:  mustUser(r),
		Status:  status,
	})
}

// cancelOrder moves the order to CANCELLED. Stock is not restored.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, http.StatusOK, order.UpdateOrderStatus{
		OrderID: chi.URLParam(r, "id"),
		UserID:  mustUser(r),
		Status:  order.StatusCancelled,
	})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, status int, req order.Request) {
	res, err := h.orders.Execute(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	if err := encodeResult(&e, res); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, &e)
}

// fail maps err to a status code. Internal errors are logged and reported
// without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bodyErr     *bodyError
		validateErr *validate.Error
	)
	switch {
	case errors.As(err, &bodyErr), errors.As(err, &validateErr):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch order.KindOf(err) {
	case order.KindInput:
		writeError(w, http.StatusBadRequest, err.Error())
	case order.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case order.KindRule:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeConflict(w http.ResponseWriter, orderID string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(http.StatusConflict)
	e.FieldStart("message")
	if orderID == "" {
		e.Str("request with this idempotency key is in progress")
	} else {
		e.Str("order already created for this idempotency key")
		e.FieldStart("orderId")
		e.Str(orderID)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusConflict, &e)
}

func pageParams(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	var failures []validate.FieldError
	parse := func(name string) int {
		raw := q.Get(name)
		if raw == "" {
			return 0
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			failures = append(failures, validate.FieldError{Name: name, Error: err})
			return 0
		}
		if err := (validate.Int{MinSet: true, Min: 1}).Validate(int64(v)); err != nil {
			failures = append(failures, validate.FieldError{Name: name, Error: err})
		}
		return v
	}
	page, limit = parse("page"), parse("limit")
	if len(failures) > 0 {
		return 0, 0, &validate.Error{Fields: failures}
	}
	return page, limit, nil
}

// mustUser returns the authenticated user. Routes are only reachable
// through Authenticator.Middleware.
func mustUser(r *http.Request) string {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		panic("handler: request is not authenticated")
	}
	return userID
}
