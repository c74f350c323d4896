package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/elimu-market/checkout/internal/domain/catalog"
	"github.com/elimu-market/checkout/internal/domain/payment"
)

// reconcile lazily pulls the latest gateway status for a pending order and
// advances its lifecycle. It is a no-op for terminal orders and for pending
// orders that never reached the gateway.
//
// Concurrent reconciliations of the same order share one flight; the PAID
// transition itself is additionally guarded by a conditional update in the
// repository, so a racing caller that slips past the flight can never apply
// the side effects twice.
func (s *Service) reconcile(ctx context.Context, o *Order) (*Order, error) {
	if o.Status != StatusPendingPayment || o.TransactionReference == "" {
		return o, nil
	}

	v, err, _ := s.recon.Do(o.ID, func() (interface{}, error) {
		// The flight's result is shared with concurrent readers, so it must
		// not die with whichever caller happened to start it.
		ctx := context.WithoutCancel(ctx)

		state, err := s.gateway.GetStatus(ctx, o.TransactionReference)
		if err != nil {
			return nil, errors.Wrap(err, "get transaction status")
		}

		switch state.Status {
		case payment.TxSuccess:
			if err := s.markPaid(ctx, o, state.Method); err != nil {
				return nil, err
			}
		case payment.TxFailed, payment.TxCancelled:
			err := s.orders.CancelPending(ctx, o.ID, s.now())
			if err != nil && !errors.Is(err, ErrNotPending) {
				return nil, errors.Wrap(err, "cancel unpaid order")
			}
		default:
			// Still pending or processing on the gateway side.
			return o, nil
		}

		fresh, err := s.orders.GetByID(ctx, o.ID)
		if err != nil {
			return nil, errors.Wrap(err, "reload order")
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Order), nil
}

// markPaid applies the PAID transition: download credentials for digital
// items, exactly-once stock decrements for physical items, and the status
// flip itself, all in one atomic repository operation. Losing the
// status race to a concurrent caller is not an error.
func (s *Service) markPaid(ctx context.Context, o *Order, method payment.Method) error {
	products, err := s.itemProducts(ctx, o)
	if err != nil {
		return err
	}

	now := s.now()
	params := MarkPaidParams{
		OrderID: o.ID,
		PaidAt:  now,
		Method:  method,
	}

	decrements := make(map[string]int)
	for _, item := range o.Items {
		p, known := products[item.ProductID]

		if item.IsDigital {
			token := item.DownloadToken
			if token == "" {
				token = uuid.New().String()
			}
			limit := s.policy.DefaultDownloadLimit
			expiryDays := s.policy.DefaultExpiryDays
			if known {
				if p.DownloadLimit > 0 {
					limit = p.DownloadLimit
				}
				if p.DownloadExpiresDays > 0 {
					expiryDays = p.DownloadExpiresDays
				}
			}
			params.Fulfillments = append(params.Fulfillments, ItemFulfillment{
				ItemID:             item.ID,
				DownloadToken:      token,
				ExpiresAt:          now.Add(time.Duration(expiryDays) * 24 * time.Hour),
				RemainingDownloads: limit,
			})
			continue
		}

		// Physical line: only finite stock figures are decremented.
		if known && p.HasFiniteStock() {
			decrements[item.ProductID] += item.Quantity
		}
	}
	for productID, qty := range decrements {
		params.Decrements = append(params.Decrements, StockDecrement{
			ProductID: productID,
			Quantity:  qty,
		})
	}

	err = s.orders.MarkPaid(ctx, params)
	if errors.Is(err, ErrNotPending) {
		return nil
	}
	return err
}

// itemProducts fetches the current catalog rows for the order's items. Items
// whose product has since disappeared fall back to policy defaults.
func (s *Service) itemProducts(ctx context.Context, o *Order) (map[string]catalog.Product, error) {
	ids := make([]string, 0, len(o.Items))
	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if item.ProductID == "" {
			continue
		}
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	fetched, err := s.catalog.FindPurchasable(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "fetch products for settlement")
	}
	products := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		products[p.ID] = p
	}
	return products, nil
}
