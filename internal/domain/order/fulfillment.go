package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// DownloadGrant is the outcome of a successful download request.
type DownloadGrant struct {
	DownloadURL        string
	SecurePath         string
	RemainingDownloads int
	ExpiresAt          time.Time
}

// RequestDownload issues one download for a paid digital item, consuming one
// unit of the item's remaining-download quota.
//
// The order's payment state is reconciled first so a buyer whose payment
// just succeeded is not bounced off a stale PENDING_PAYMENT row. The quota
// decrement is an atomic decrement-if-positive in the repository: two
// concurrent requests against a quota of one yield exactly one grant.
func (s *Service) RequestDownload(ctx context.Context, userID, orderID, itemID string) (*DownloadGrant, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	o, err = s.reconcile(ctx, o)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPaid {
		return nil, ErrNotPaid
	}

	item := o.ItemByID(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	if !item.IsDigital {
		return nil, ErrItemNotDigital
	}
	if item.DownloadURL == "" {
		return nil, ErrNoDownloadURL
	}
	if item.DownloadExpiresAt == nil || !item.DownloadExpiresAt.After(s.now()) {
		return nil, ErrDownloadExpired
	}
	if item.RemainingDownloads <= 0 {
		return nil, ErrDownloadLimitReached
	}

	// Authoritative, race-safe decrement. The precondition checks above
	// only exist to produce distinct error messages.
	remaining, err := s.orders.DecrementDownload(ctx, item.ID)
	if err != nil {
		if errors.Is(err, ErrDownloadLimitReached) {
			return nil, ErrDownloadLimitReached
		}
		return nil, errors.Wrap(err, "consume download")
	}

	return &DownloadGrant{
		DownloadURL: item.DownloadURL,
		SecurePath: fmt.Sprintf("/secure/downloads/%s/%s?token=%s&remaining=%d",
			o.ID, item.ID, item.DownloadToken, remaining),
		RemainingDownloads: remaining,
		ExpiresAt:          *item.DownloadExpiresAt,
	}, nil
}
