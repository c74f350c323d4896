// Package payment defines the contract against the external payment gateway.
// Gateway integration details (card processors, mobile money flows) are not
// this service's concern; it stores the returned method tag and never
// branches on it.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnavailable distinguishes a gateway outage or timeout from a declined
// or failed transaction.
var ErrUnavailable = errors.New("payment service unavailable")

// Method is the closed set of payment method tags resolved by the gateway.
type Method string

const (
	MethodCard        Method = "CARD"
	MethodMobileMoney Method = "MOBILE_MONEY"
)

// TxStatus is the lifecycle status of a gateway transaction.
type TxStatus string

const (
	TxPending    TxStatus = "PENDING"
	TxProcessing TxStatus = "PROCESSING"
	TxSuccess    TxStatus = "SUCCESS"
	TxFailed     TxStatus = "FAILED"
	TxCancelled  TxStatus = "CANCELLED"
)

// Terminal reports whether the transaction can no longer change state.
func (s TxStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed || s == TxCancelled
}

// CheckoutRequest starts a payment for a priced order.
type CheckoutRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Method      Method
	Phone       string
	Description string
}

// CheckoutSession is the gateway's handle for a started payment.
type CheckoutSession struct {
	Reference   string
	CheckoutURL string
	Method      Method
}

// TxState is the current gateway-side view of a transaction.
type TxState struct {
	Status TxStatus
	Method Method
}

// Gateway initiates checkout transactions and reports their status.
type Gateway interface {
	InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetStatus(ctx context.Context, reference string) (*TxState, error)
}
