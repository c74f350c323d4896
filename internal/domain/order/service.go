package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/elimu-market/checkout/internal/domain/catalog"
	"github.com/elimu-market/checkout/internal/domain/coupon"
	"github.com/elimu-market/checkout/internal/domain/payment"
)

// FulfillmentPolicy holds the defaults applied when a digital item's source
// product no longer carries its own download settings.
type FulfillmentPolicy struct {
	DefaultDownloadLimit int
	DefaultExpiryDays    int
}

// DefaultFulfillmentPolicy matches the catalog schema defaults.
var DefaultFulfillmentPolicy = FulfillmentPolicy{
	DefaultDownloadLimit: 3,
	DefaultExpiryDays:    7,
}

// Service encapsulates order checkout and fulfillment business logic.
type Service struct {
	catalog catalog.Reader
	coupons coupon.Applier
	gateway payment.Gateway
	orders  Repository
	policy  FulfillmentPolicy

	// recon collapses concurrent reconciliation attempts for the same order
	// into a single gateway round-trip.
	recon singleflight.Group
	now   func() time.Time
}

// NewService creates an order Service with the required collaborators.
func NewService(
	catalogReader catalog.Reader,
	coupons coupon.Applier,
	gateway payment.Gateway,
	orders Repository,
	policy FulfillmentPolicy,
) *Service {
	if policy.DefaultDownloadLimit <= 0 {
		policy.DefaultDownloadLimit = DefaultFulfillmentPolicy.DefaultDownloadLimit
	}
	if policy.DefaultExpiryDays <= 0 {
		policy.DefaultExpiryDays = DefaultFulfillmentPolicy.DefaultExpiryDays
	}
	return &Service{
		catalog: catalogReader,
		coupons: coupons,
		gateway: gateway,
		orders:  orders,
		policy:  policy,
		now:     time.Now,
	}
}

// ItemRequest is one requested order line.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	UserID          string
	Items           []ItemRequest
	Currency        string
	CouponCode      string
	Method          payment.Method
	Phone           string
	ShippingAddress []byte
	Metadata        map[string]string
}

// CheckoutResult is the outcome of a created (or payment-retried) order.
type CheckoutResult struct {
	Order                *Order
	CheckoutURL          string
	TransactionReference string
}

// CreateOrder validates the requested items against the catalog, prices the
// order with an optional coupon, persists it atomically, and initiates
// payment with the gateway.
//
// When payment initiation fails, the already-persisted order is returned
// inside the error path untouched: it stays PENDING_PAYMENT without a
// transaction reference and payment can be retried later.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Collect distinct product IDs, preserving request order.
	distinct := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			distinct = append(distinct, item.ProductID)
		}
	}

	// Batch fetch all purchasable products in a single query.
	fetched, err := s.catalog.FindPurchasable(ctx, distinct)
	if err != nil {
		return nil, errors.Wrap(err, "find purchasable products")
	}
	products := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		products[p.ID] = p
	}
	if len(products) != len(distinct) {
		missing := make([]string, 0, len(distinct)-len(products))
		for _, id := range distinct {
			if _, ok := products[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, &ProductsUnavailableError{ProductIDs: missing}
	}

	// Quantities are validated only once every product is known to exist, so
	// an unknown product always reports as unavailable.
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
	}

	// Order currency: caller-supplied, else the first product's.
	currency := req.Currency
	if currency == "" {
		currency = products[req.Items[0].ProductID].Currency
	}
	for _, id := range distinct {
		if p := products[id]; p.Currency != currency {
			return nil, &MixedCurrencyError{
				OrderCurrency:   currency,
				ProductID:       p.ID,
				ProductCurrency: p.Currency,
			}
		}
	}

	// Advisory stock check. Stock is not reserved here; the authoritative
	// check happens again at settlement.
	wanted := make(map[string]int, len(distinct))
	for _, item := range req.Items {
		wanted[item.ProductID] += item.Quantity
	}
	for _, id := range distinct {
		p := products[id]
		if p.HasFiniteStock() && wanted[id] > *p.StockQuantity {
			return nil, &InsufficientStockError{
				ProductID: id,
				Requested: wanted[id],
				Available: *p.StockQuantity,
			}
		}
	}

	// Price every line from the current catalog price and sum the subtotal.
	now := s.now()
	orderID := uuid.New().String()
	items := make([]Item, len(req.Items))
	subtotal := decimal.Zero
	for i, item := range req.Items {
		p := products[item.ProductID]
		lineTotal := p.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		items[i] = Item{
			ID:           uuid.New().String(),
			OrderID:      orderID,
			ProductID:    p.ID,
			ProductTitle: p.Title,
			IsDigital:    p.IsDigital,
			DownloadURL:  p.DownloadURL,
			UnitPrice:    p.UnitPrice,
			Quantity:     item.Quantity,
			LineTotal:    lineTotal,
		}
		subtotal = subtotal.Add(lineTotal)
	}

	// Tax is currently always zero but stays an explicit addend so a future
	// tax engine slots in without touching the total formula.
	tax := decimal.Zero
	amount := subtotal.Add(tax).Round(2)

	// Apply the coupon, if any. A rejection fails the whole creation.
	discount := decimal.Zero
	var applied *coupon.Applied
	if req.CouponCode != "" {
		applied, err = s.coupons.Apply(ctx, coupon.ApplyRequest{
			UserID:   req.UserID,
			Code:     req.CouponCode,
			Amount:   amount,
			Currency: currency,
		})
		if err != nil {
			return nil, errors.Wrap(err, "apply coupon")
		}
		discount = applied.DiscountAmount
		if discount.GreaterThan(amount) {
			discount = amount
		}
		discount = discount.Round(2)
	}

	total := amount.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	total = total.Round(2)

	metadata := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	// The contact phone rides in metadata so payment retries after a reload
	// still reach the gateway with it.
	if req.Phone != "" {
		metadata["phone"] = req.Phone
	}
	if applied != nil {
		metadata["coupon_discount_type"] = applied.DiscountType
		metadata["coupon_discount_value"] = applied.DiscountValue.String()
	}

	o := &Order{
		ID:              orderID,
		UserID:          req.UserID,
		InvoiceNumber:   NewInvoiceNumber(now),
		Status:          StatusPendingPayment,
		PaymentMethod:   req.Method,
		Currency:        currency,
		Subtotal:        subtotal,
		Tax:             tax,
		Discount:        discount,
		Total:           total,
		ShippingAddress: req.ShippingAddress,
		Metadata:        metadata,
		CreatedAt:       now,
		Items:           items,
	}
	if applied != nil {
		o.CouponID = applied.CouponID
		o.CouponCode = applied.Code
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	result, err := s.initiatePayment(ctx, o)
	if err != nil {
		return nil, err
	}

	// Best-effort redemption recording: a failure here must not roll back
	// the order or the payment, so it is logged and swallowed.
	if applied != nil {
		s.recordRedemption(ctx, o, applied)
	}

	return result, nil
}

// RetryPayment re-attempts payment initiation for an existing order that was
// persisted but never got a transaction reference.
func (s *Service) RetryPayment(ctx context.Context, userID, orderID string) (*CheckoutResult, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	o, err = s.reconcile(ctx, o)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPendingPayment {
		return nil, ErrPaymentNotRetryable
	}
	if o.TransactionReference != "" {
		return nil, ErrPaymentAlreadyInitiated
	}
	return s.initiatePayment(ctx, o)
}

// initiatePayment starts a gateway checkout for the persisted order and
// stores the returned transaction reference.
func (s *Service) initiatePayment(ctx context.Context, o *Order) (*CheckoutResult, error) {
	session, err := s.gateway.InitiateCheckout(ctx, payment.CheckoutRequest{
		UserID:      o.UserID,
		Amount:      o.Total,
		Currency:    o.Currency,
		Method:      o.PaymentMethod,
		Phone:       o.Metadata["phone"],
		Description: "Payment for invoice " + o.InvoiceNumber,
	})
	if err != nil {
		return nil, errors.Wrap(err, "initiate checkout")
	}

	if err := s.orders.SetTransaction(ctx, o.ID, session.Reference, session.Method); err != nil {
		return nil, errors.Wrap(err, "store transaction reference")
	}
	o.TransactionReference = session.Reference
	if session.Method != "" {
		o.PaymentMethod = session.Method
	}

	return &CheckoutResult{
		Order:                o,
		CheckoutURL:          session.CheckoutURL,
		TransactionReference: session.Reference,
	}, nil
}

func (s *Service) recordRedemption(ctx context.Context, o *Order, applied *coupon.Applied) {
	err := s.coupons.RecordRedemption(ctx, coupon.Redemption{
		CouponID:             applied.CouponID,
		Code:                 applied.Code,
		UserID:               o.UserID,
		OrderID:              o.ID,
		TransactionReference: o.TransactionReference,
		Metadata: map[string]string{
			"invoice_number": o.InvoiceNumber,
		},
	})
	if err != nil {
		zctx.From(ctx).Warn("record coupon redemption failed",
			zap.String("order_id", o.ID),
			zap.String("coupon_code", applied.Code),
			zap.Error(err),
		)
	}
}

// GetOrder returns the caller's order, reconciling its payment state first.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, o)
}

// ListOrders returns the caller's orders, newest first. Listings do not
// reconcile: reconciliation stays a per-order read concern.
func (s *Service) ListOrders(ctx context.Context, userID string, f ListFilter) ([]Order, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	orders, err := s.orders.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Cancel cancels the caller's PENDING_PAYMENT order. Cancelling an
// already-cancelled order is idempotent; a paid order cannot be cancelled
// through this path.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusCancelled:
		return o, nil
	case StatusPaid:
		return nil, ErrCancelPaid
	}

	err = s.orders.CancelPending(ctx, o.ID, s.now())
	if err != nil && !errors.Is(err, ErrNotPending) {
		return nil, errors.Wrap(err, "cancel order")
	}

	// Reload: either our cancellation or a concurrent transition won.
	o, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	if o.Status == StatusPaid {
		return nil, ErrCancelPaid
	}
	return o, nil
}

// ownedOrder loads an order and enforces ownership.
func (s *Service) ownedOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOwner
	}
	return o, nil
}
