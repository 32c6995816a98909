package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homestage/creditcore/internal/ratelimit"
	"github.com/homestage/creditcore/internal/repos/audit"
	"github.com/homestage/creditcore/internal/services/checkout"
	"github.com/homestage/creditcore/internal/services/credits"
)

// NewRouter registers all API endpoints.
func NewRouter(creditsSvc *credits.Service, checkoutSvc *checkout.Service, auditRepo audit.Audit, limiter *ratelimit.Limiter) http.Handler {
	h := NewHandler(creditsSvc, checkoutSvc, auditRepo, limiter)
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/user/{userId}/balance", h.GetBalanceHandler)
	r.Get("/user/{userId}/ledger", h.GetLedgerHandler)
	r.Post("/user/{userId}/credits", h.ApplyDeltaHandler)
	r.Post("/user/{userId}/orders", h.CreateOrderHandler)

	r.Get("/orders/{orderId}", h.GetOrderHandler)
	r.Post("/orders/{orderId}/payment-ref", h.AttachPaymentRefHandler)
	r.Post("/orders/{orderId}/complete", h.CompleteOrderHandler)
	r.Post("/orders/{orderId}/cancel", h.CancelOrderHandler)
	r.Get("/orders/{orderId}/audit", h.GetOrderAuditHandler)

	return r
}
