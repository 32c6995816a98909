package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homestage/creditcore/internal/ratelimit"
	"github.com/homestage/creditcore/internal/repos/accounts"
	"github.com/homestage/creditcore/internal/repos/audit"
	"github.com/homestage/creditcore/internal/repos/ledger"
	"github.com/homestage/creditcore/internal/repos/orders"
	"github.com/homestage/creditcore/internal/services/checkout"
	"github.com/homestage/creditcore/internal/services/credits"
)

const defaultLedgerLimit = 100

// HandlerProvider exposes the credit and order services over HTTP for the
// storefront and admin glue.
type HandlerProvider struct {
	credits  *credits.Service
	checkout *checkout.Service
	audit    audit.Audit
	limiter  *ratelimit.Limiter
}

func NewHandler(creditsSvc *credits.Service, checkoutSvc *checkout.Service, auditRepo audit.Audit, limiter *ratelimit.Limiter) *HandlerProvider {
	return &HandlerProvider{
		credits:  creditsSvc,
		checkout: checkoutSvc,
		audit:    auditRepo,
		limiter:  limiter,
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)

		http.Error(w, `{"error":"internal json encode failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func userIDFromPath(r *http.Request) (string, error) {
	id := chi.URLParam(r, "userId")
	if id == "" {
		return "", fmt.Errorf("missing userId")
	}

	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB cap
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body")
		}

		return fmt.Errorf("invalid JSON")
	}

	return nil
}

type orderResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"userId"`
	Status      string  `json:"status"`
	CreditsUsed int64   `json:"creditsUsed"`
	PaymentRef  *string `json:"paymentRef,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toOrderResponse(o *orders.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		CreditsUsed: o.CreditsUsed,
		PaymentRef:  o.PaymentRef,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   o.UpdatedAt.Format(time.RFC3339),
	}
}

type ledgerEntryResponse struct {
	ID           int64   `json:"id"`
	Delta        int64   `json:"delta"`
	Reason       string  `json:"reason"`
	OrderID      *string `json:"orderId,omitempty"`
	BalanceAfter int64   `json:"balanceAfter"`
	CreatedAt    string  `json:"createdAt"`
}

func toLedgerResponse(entries []ledger.Entry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:           e.ID,
			Delta:        e.Delta,
			Reason:       e.Reason,
			OrderID:      e.OrderID,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}

	return out
}

// writeServiceError maps domain sentinels onto HTTP statuses so every caller
// renders failures uniformly.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accounts.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, credits.ErrConflict):
		writeError(w, http.StatusConflict, "conflicting update, retry the operation")
	case errors.Is(err, checkout.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid order status transition")
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Handlers ---

// GetBalanceHandler handles GET /user/{userId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	balance, err := h.credits.GetBalance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  userID,
		"balance": balance,
	})
}

// GetLedgerHandler handles GET /user/{userId}/ledger
func (h *HandlerProvider) GetLedgerHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	entries, err := h.credits.GetLedger(r.Context(), userID, defaultLedgerLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  userID,
		"entries": toLedgerResponse(entries),
	})
}

type applyDeltaRequest struct {
	Delta   int64   `json:"delta"`
	Reason  string  `json:"reason"`
	OrderID *string `json:"orderId,omitempty"`
}

// ApplyDeltaHandler handles POST /user/{userId}/credits, the admin surface
// for grants and manual refunds.
func (h *HandlerProvider) ApplyDeltaHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req applyDeltaRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason required")
		return
	}

	newBalance, err := h.credits.ApplyDelta(r.Context(), userID, req.Delta, req.Reason, req.OrderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  userID,
		"balance": newBalance,
	})
}

type createOrderRequest struct {
	CreditsUsed int64   `json:"creditsUsed"`
	PaymentRef  *string `json:"paymentRef,omitempty"`
}

// CreateOrderHandler handles POST /user/{userId}/orders. This is the only
// rate-limited endpoint: the window is keyed on the user, not the deduction
// path.
func (h *HandlerProvider) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	if !h.limiter.Allow(r.Context(), userID) {
		writeError(w, http.StatusTooManyRequests, "too many checkout attempts, try again later")
		return
	}

	var req createOrderRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.CreditsUsed < 0 {
		writeError(w, http.StatusBadRequest, "creditsUsed must be >= 0")
		return
	}
	if req.CreditsUsed == 0 && req.PaymentRef == nil {
		writeError(w, http.StatusBadRequest, "order needs credits or a payment reference")
		return
	}

	order, err := h.checkout.Create(r.Context(), userID, req.CreditsUsed, req.PaymentRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrderHandler handles GET /orders/{orderId}
func (h *HandlerProvider) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.checkout.Get(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type attachPaymentRefRequest struct {
	PaymentRef string `json:"paymentRef"`
}

// AttachPaymentRefHandler handles POST /orders/{orderId}/payment-ref
func (h *HandlerProvider) AttachPaymentRefHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req attachPaymentRefRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.PaymentRef == "" {
		writeError(w, http.StatusBadRequest, "paymentRef required")
		return
	}

	order, err := h.checkout.AttachPaymentRef(r.Context(), orderID, req.PaymentRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// CompleteOrderHandler handles POST /orders/{orderId}/complete
func (h *HandlerProvider) CompleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	err := h.checkout.MarkCompleted(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetOrderAuditHandler handles GET /orders/{orderId}/audit, the repair trail
// the sweeper leaves behind, for operator inspection.
func (h *HandlerProvider) GetOrderAuditHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	// 404 on unknown orders rather than returning an empty trail.
	if _, err := h.checkout.Get(r.Context(), orderID); err != nil {
		writeServiceError(w, err)
		return
	}

	events, err := h.audit.ListByOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"action":    e.Action,
			"createdAt": e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": orderID,
		"events":  out,
	})
}

// CancelOrderHandler handles POST /orders/{orderId}/cancel
func (h *HandlerProvider) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	err := h.checkout.MarkCancelled(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
