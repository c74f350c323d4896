// Package coupon defines the narrow contract against the coupon service.
// Pricing rules, eligibility and redemption bookkeeping live on the other
// side of the Applier interface.
package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Domain errors signalled by the coupon service. All of them reject the
// order being created.
var (
	ErrInvalid       = errors.New("invalid coupon code")
	ErrExpired       = errors.New("coupon expired")
	ErrNotApplicable = errors.New("coupon not applicable")
	ErrAlreadyUsed   = errors.New("coupon already used")

	// ErrUnavailable distinguishes a coupon service outage or timeout from
	// a rejected code.
	ErrUnavailable = errors.New("coupon service unavailable")
)

// ApplyRequest asks the coupon service to price a code against an order
// amount.
type ApplyRequest struct {
	UserID   string
	Code     string
	Amount   decimal.Decimal
	Currency string
}

// Applied is the coupon service's discount decision.
type Applied struct {
	CouponID       string
	Code           string
	DiscountType   string
	DiscountValue  decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Redemption records that an applied coupon was consumed by an order.
type Redemption struct {
	CouponID             string
	Code                 string
	UserID               string
	OrderID              string
	TransactionReference string
	Metadata             map[string]string
}

// Applier is the checkout engine's view of the coupon service.
//
// RecordRedemption is best-effort: callers log failures and continue, the
// order and payment stay valid.
type Applier interface {
	Apply(ctx context.Context, req ApplyRequest) (*Applied, error)
	RecordRedemption(ctx context.Context, r Redemption) error
}
