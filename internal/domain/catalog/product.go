// Package catalog exposes a read-only view of purchasable items. The catalog
// itself (course editor, media, publishing) is owned by another service; the
// checkout engine only reads products and decrements stock at settlement.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist or is not
// published.
var ErrNotFound = errors.New("product not found")

// Product is a purchasable catalog item.
type Product struct {
	ID        string
	Title     string
	UnitPrice decimal.Decimal
	Currency  string
	IsDigital bool

	// StockQuantity is nil for unlimited stock. Only meaningful for
	// physical products.
	StockQuantity *int

	// Digital delivery settings.
	DownloadURL         string
	DownloadLimit       int
	DownloadExpiresDays int
}

// HasFiniteStock reports whether the product tracks a finite stock figure.
func (p Product) HasFiniteStock() bool {
	return !p.IsDigital && p.StockQuantity != nil
}

// Reader provides batch lookup of published, purchasable products.
type Reader interface {
	FindPurchasable(ctx context.Context, ids []string) ([]Product, error)
}
