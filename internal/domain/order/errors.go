package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems = errors.New("items required")
	ErrNotFound   = errors.New("order not found")
	ErrNotOwner   = errors.New("order does not belong to caller")

	// ErrNotPending is returned by conditional repository updates when the
	// order already left PENDING_PAYMENT. Callers treat it as "someone else
	// won the race" and reload.
	ErrNotPending = errors.New("order is not awaiting payment")

	ErrCancelPaid              = errors.New("paid orders cannot be cancelled")
	ErrPaymentAlreadyInitiated = errors.New("payment already initiated for this order")
	ErrPaymentNotRetryable     = errors.New("payment cannot be retried for this order")

	ErrItemNotFound         = errors.New("order item not found")
	ErrItemNotDigital       = errors.New("item is not a digital product")
	ErrNoDownloadURL        = errors.New("no download configured for this item")
	ErrNotPaid              = errors.New("downloads only available for paid orders")
	ErrDownloadExpired      = errors.New("download link has expired")
	ErrDownloadLimitReached = errors.New("download limit reached")
)

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// ProductsUnavailableError indicates requested products that are missing or
// not purchasable.
type ProductsUnavailableError struct {
	ProductIDs []string
}

func (e *ProductsUnavailableError) Error() string {
	return fmt.Sprintf("one or more products unavailable: %s", strings.Join(e.ProductIDs, ", "))
}

// MixedCurrencyError indicates a product priced in a different currency than
// the order.
type MixedCurrencyError struct {
	OrderCurrency   string
	ProductID       string
	ProductCurrency string
}

func (e *MixedCurrencyError) Error() string {
	return fmt.Sprintf("mixed currencies unsupported: product %s is priced in %s, order is %s",
		e.ProductID, e.ProductCurrency, e.OrderCurrency)
}

// InsufficientStockError is the advisory stock failure at order creation
// time.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InsufficientInventoryError is the authoritative stock failure at
// settlement time. It aborts the PAID transition; the order stays
// PENDING_PAYMENT.
type InsufficientInventoryError struct {
	ProductID string
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %s", e.ProductID)
}
