// Package handler exposes the order service over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/pkg/idempotency"
)

// Handler serves the /api routes.
type Handler struct {
	orders *order.Service
	auth   *Authenticator
	// idem is nil when Redis is not configured; Idempotency-Key is then
	// ignored.
	idem *idempotency.Store
}

// Option configures a Handler.
type Option func(*Handler)

// WithIdempotency enables Idempotency-Key handling on order creation.
func WithIdempotency(s *idempotency.Store) Option {
	return func(h *Handler) {
		h.idem = s
	}
}

// New creates a Handler.
func New(orders *order.Service, auth *Authenticator, opts ...Option) *Handler {
	h := &Handler{
		orders: orders,
		auth:   auth,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns the authenticated order routes, to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth.Middleware)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Put("/", h.updateItems)
			r.Delete("/", h.cancelOrder)
			r.Put("/status", h.updateStatus)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
