// Package handler exposes the checkout engine over HTTP and maps domain
// errors to stable wire responses.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/elimu-market/checkout/internal/domain/coupon"
	"github.com/elimu-market/checkout/internal/domain/order"
	"github.com/elimu-market/checkout/internal/domain/payment"
)

// Handler implements the checkout HTTP API, delegating business logic to the
// order service.
type Handler struct {
	service *order.Service
	metrics *Metrics
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(service *order.Service, metrics *Metrics) *Handler {
	return &Handler{
		service: service,
		metrics: metrics,
	}
}

// Register mounts all API routes on the given mux. Authentication is applied
// by the caller around the whole mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/retry-payment", h.retryPayment)
	mux.HandleFunc("GET /api/orders/{id}/invoice", h.getInvoice)
	mux.HandleFunc("POST /api/orders/{id}/items/{itemID}/download", h.requestDownload)
}

// errorBody is the stable error shape for all failures.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapStatus(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, status, errorBody{Code: status, Message: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Code: status, Message: err.Error()})
}

// mapStatus converts domain errors to HTTP status codes. Anything unmapped
// is a 500 and its details never leak to the caller.
func mapStatus(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrItemNotFound):
		return http.StatusNotFound

	case errors.Is(err, order.ErrNotOwner),
		errors.Is(err, order.ErrDownloadExpired),
		errors.Is(err, order.ErrDownloadLimitReached):
		return http.StatusForbidden

	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrCancelPaid),
		errors.Is(err, order.ErrNotPaid),
		errors.Is(err, order.ErrItemNotDigital),
		errors.Is(err, order.ErrNoDownloadURL),
		errors.Is(err, order.ErrPaymentAlreadyInitiated),
		errors.Is(err, order.ErrPaymentNotRetryable),
		errors.Is(err, coupon.ErrInvalid),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrNotApplicable),
		errors.Is(err, coupon.ErrAlreadyUsed):
		return http.StatusBadRequest

	case errors.Is(err, coupon.ErrUnavailable),
		errors.Is(err, payment.ErrUnavailable):
		return http.StatusBadGateway
	}

	var (
		invalidQty    *order.InvalidQuantityError
		unavailable   *order.ProductsUnavailableError
		mixedCurrency *order.MixedCurrencyError
		noStock       *order.InsufficientStockError
		noInventory   *order.InsufficientInventoryError
	)
	switch {
	case errors.As(err, &unavailable):
		return http.StatusNotFound
	case errors.As(err, &invalidQty),
		errors.As(err, &mixedCurrency),
		errors.As(err, &noStock),
		errors.As(err, &noInventory):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
