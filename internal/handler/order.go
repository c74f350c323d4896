package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/elimu-market/checkout/internal/domain/order"
	"github.com/elimu-market/checkout/internal/domain/payment"
)

type orderItemResponse struct {
	ID                 string          `json:"id"`
	ProductID          string          `json:"productId,omitempty"`
	ProductTitle       string          `json:"productTitle"`
	IsDigital          bool            `json:"isDigital"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	Quantity           int             `json:"quantity"`
	LineTotal          decimal.Decimal `json:"lineTotal"`
	RemainingDownloads int             `json:"remainingDownloads,omitempty"`
	DownloadExpiresAt  *time.Time      `json:"downloadExpiresAt,omitempty"`
}

type orderResponse struct {
	ID                   string              `json:"id"`
	InvoiceNumber        string              `json:"invoiceNumber"`
	Status               order.Status        `json:"status"`
	PaymentMethod        payment.Method      `json:"paymentMethod,omitempty"`
	TransactionReference string              `json:"transactionReference,omitempty"`
	Currency             string              `json:"currency"`
	Subtotal             decimal.Decimal     `json:"subtotal"`
	Tax                  decimal.Decimal     `json:"tax"`
	Discount             decimal.Decimal     `json:"discount"`
	Total                decimal.Decimal     `json:"total"`
	CouponCode           string              `json:"couponCode,omitempty"`
	ShippingAddress      json.RawMessage     `json:"shippingAddress,omitempty"`
	Metadata             map[string]string   `json:"metadata,omitempty"`
	PaidAt               *time.Time          `json:"paidAt,omitempty"`
	CancelledAt          *time.Time          `json:"cancelledAt,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	Items                []orderItemResponse `json:"items"`
}

type checkoutResultResponse struct {
	Order                orderResponse `json:"order"`
	CheckoutURL          string        `json:"checkoutUrl,omitempty"`
	TransactionReference string        `json:"transactionReference"`
}

func orderToResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ID:                 item.ID,
			ProductID:          item.ProductID,
			ProductTitle:       item.ProductTitle,
			IsDigital:          item.IsDigital,
			UnitPrice:          item.UnitPrice,
			Quantity:           item.Quantity,
			LineTotal:          item.LineTotal,
			RemainingDownloads: item.RemainingDownloads,
			DownloadExpiresAt:  item.DownloadExpiresAt,
		}
	}
	return orderResponse{
		ID:                   o.ID,
		InvoiceNumber:        o.InvoiceNumber,
		Status:               o.Status,
		PaymentMethod:        o.PaymentMethod,
		TransactionReference: o.TransactionReference,
		Currency:             o.Currency,
		Subtotal:             o.Subtotal,
		Tax:                  o.Tax,
		Discount:             o.Discount,
		Total:                o.Total,
		CouponCode:           o.CouponCode,
		ShippingAddress:      o.ShippingAddress,
		Metadata:             o.Metadata,
		PaidAt:               o.PaidAt,
		CancelledAt:          o.CancelledAt,
		CreatedAt:            o.CreatedAt,
		Items:                items,
	}
}

type createOrderRequest struct {
	Items           []createOrderItem `json:"items"`
	Currency        string            `json:"currency"`
	CouponCode      string            `json:"couponCode"`
	PaymentMethod   string            `json:"paymentMethod"`
	Phone           string            `json:"phone"`
	ShippingAddress json.RawMessage   `json:"shippingAddress"`
	Metadata        map[string]string `json:"metadata"`
}

type createOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    http.StatusBadRequest,
			Message: "invalid request body",
		})
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.service.CreateOrder(r.Context(), order.CreateOrderRequest{
		UserID:          UserID(r.Context()),
		Items:           items,
		Currency:        req.Currency,
		CouponCode:      req.CouponCode,
		Method:          payment.Method(req.PaymentMethod),
		Phone:           req.Phone,
		ShippingAddress: req.ShippingAddress,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.metrics.orderCreated(r.Context(), result.Order.Currency)
	writeJSON(w, http.StatusCreated, checkoutResultResponse{
		Order:                orderToResponse(result.Order),
		CheckoutURL:          result.CheckoutURL,
		TransactionReference: result.TransactionReference,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.ListFilter{Status: order.Status(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    http.StatusBadRequest,
			Message: "unknown status filter",
		})
		return
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	orders, err := h.service.ListOrders(r.Context(), UserID(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := listOrdersResponse{
		Orders: make([]orderResponse, len(orders)),
		Limit:  f.Limit,
		Offset: f.Offset,
	}
	for i := range orders {
		out.Orders[i] = orderToResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Cancel(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RetryPayment(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResultResponse{
		Order:                orderToResponse(result.Order),
		CheckoutURL:          result.CheckoutURL,
		TransactionReference: result.TransactionReference,
	})
}

type invoiceLineResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type invoiceResponse struct {
	InvoiceNumber string                `json:"invoiceNumber"`
	IssuedAt      time.Time             `json:"issuedAt"`
	PaidAt        *time.Time            `json:"paidAt,omitempty"`
	Status        order.Status          `json:"status"`
	Currency      string                `json:"currency"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	Tax           decimal.Decimal       `json:"tax"`
	Discount      decimal.Decimal       `json:"discount"`
	Total         decimal.Decimal       `json:"total"`
	CouponCode    string                `json:"couponCode,omitempty"`
	Items         []invoiceLineResponse `json:"items"`
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	inv := order.ProjectInvoice(o)
	out := invoiceResponse{
		InvoiceNumber: inv.InvoiceNumber,
		IssuedAt:      inv.IssuedAt,
		PaidAt:        inv.PaidAt,
		Status:        inv.Status,
		Currency:      inv.Currency,
		Subtotal:      inv.Subtotal,
		Tax:           inv.Tax,
		Discount:      inv.Discount,
		Total:         inv.Total,
		CouponCode:    inv.CouponCode,
		Items:         make([]invoiceLineResponse, len(inv.Items)),
	}
	for i, line := range inv.Items {
		out.Items[i] = invoiceLineResponse{
			ID:        line.ID,
			Title:     line.Title,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
