package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the display/printable projection of a persisted order. It
// exists to decouple the wire shape from the persistence shape; building it
// has no side effects.
type Invoice struct {
	InvoiceNumber string
	IssuedAt      time.Time
	PaidAt        *time.Time
	Status        Status
	Currency      string
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	CouponCode    string
	Items         []InvoiceLine
}

// InvoiceLine is one priced line on an invoice.
type InvoiceLine struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// ProjectInvoice transforms a hydrated order into its invoice view.
func ProjectInvoice(o *Order) Invoice {
	lines := make([]InvoiceLine, len(o.Items))
	for i, item := range o.Items {
		lines[i] = InvoiceLine{
			ID:        item.ID,
			Title:     item.ProductTitle,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
	}
	return Invoice{
		InvoiceNumber: o.InvoiceNumber,
		IssuedAt:      o.CreatedAt,
		PaidAt:        o.PaidAt,
		Status:        o.Status,
		Currency:      o.Currency,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		Discount:      o.Discount,
		Total:         o.Total,
		CouponCode:    o.CouponCode,
		Items:         lines,
	}
}
