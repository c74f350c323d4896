// Package order implements the checkout and fulfillment engine: building
// priced orders from catalog items, reconciling asynchronous payment
// outcomes, and releasing digital download rights and physical stock exactly
// once per paid order.
package order

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/elimu-market/checkout/internal/domain/payment"
)

// Status is the payment lifecycle state of an order. Transitions only move
// forward: PENDING_PAYMENT -> PAID or PENDING_PAYMENT -> CANCELLED, both
// terminal.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusCancelled      Status = "CANCELLED"
)

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Order is a priced, owned request to purchase one or more catalog items.
type Order struct {
	ID            string
	UserID        string
	InvoiceNumber string
	Status        Status

	// PaymentMethod and TransactionReference are empty until the gateway
	// resolves them.
	PaymentMethod        payment.Method
	TransactionReference string

	Currency string
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal

	CouponID   string
	CouponCode string

	// ShippingAddress is an opaque structured blob, physical orders only.
	ShippingAddress json.RawMessage
	Metadata        map[string]string

	PaidAt      *time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time

	Items []Item
}

// Item is an immutable price/title snapshot of one purchased line, plus
// mutable fulfillment state for digital goods.
type Item struct {
	ID      string
	OrderID string

	// ProductID is empty when the source product was since deleted; the
	// snapshot fields below keep the order self-contained.
	ProductID    string
	ProductTitle string
	IsDigital    bool

	DownloadURL        string
	DownloadToken      string
	DownloadExpiresAt  *time.Time
	RemainingDownloads int

	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// ItemByID returns the order item with the given id, or nil.
func (o *Order) ItemByID(itemID string) *Item {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

// NewInvoiceNumber generates a human-readable invoice number: a timestamp
// prefix plus a random suffix. Uniqueness is ultimately enforced by the
// orders table constraint, not here.
func NewInvoiceNumber(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("INV-%s-%s",
		now.UTC().Format("20060102150405"),
		strings.ToUpper(hex.EncodeToString(u[:4])),
	)
}

// ListFilter narrows and pages an order listing.
type ListFilter struct {
	// Status filters by lifecycle state when non-empty.
	Status Status
	Limit  int
	Offset int
}

// ItemFulfillment carries the download credential fields to persist for one
// digital item at the PAID transition.
type ItemFulfillment struct {
	ItemID             string
	DownloadToken      string
	ExpiresAt          time.Time
	RemainingDownloads int
}

// StockDecrement is an exactly-once stock release for one product at the
// PAID transition.
type StockDecrement struct {
	ProductID string
	Quantity  int
}

// MarkPaidParams describes the full set of effects of the PAID transition.
// The repository applies them atomically: the status flip is conditional on
// the order still being PENDING_PAYMENT, and a failed stock decrement rolls
// back everything.
type MarkPaidParams struct {
	OrderID      string
	PaidAt       time.Time
	Method       payment.Method
	Fulfillments []ItemFulfillment
	Decrements   []StockDecrement
}

// Repository defines persistence operations for orders. Implementations
// must make MarkPaid, CancelPending and DecrementDownload safe under
// concurrent invocation (conditional updates, not read-then-write).
type Repository interface {
	// Create persists the order and all its items in a single atomic write.
	Create(ctx context.Context, o *Order) error
	// GetByID returns the hydrated order or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string, f ListFilter) ([]Order, error)
	// SetTransaction stores the gateway reference and, when non-empty, the
	// resolved payment method.
	SetTransaction(ctx context.Context, orderID, reference string, method payment.Method) error
	// MarkPaid applies the PAID transition. Returns ErrNotPending when the
	// order already left PENDING_PAYMENT, or InsufficientInventoryError
	// when a stock decrement would go negative (nothing is applied).
	MarkPaid(ctx context.Context, p MarkPaidParams) error
	// CancelPending flips a PENDING_PAYMENT order to CANCELLED. Returns
	// ErrNotPending when the order already left PENDING_PAYMENT.
	CancelPending(ctx context.Context, orderID string, at time.Time) error
	// DecrementDownload atomically decrements a positive remaining-download
	// counter and returns the new value, or ErrDownloadLimitReached.
	DecrementDownload(ctx context.Context, itemID string) (int, error)
}
