package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elimu-market/checkout/internal/domain/order"
	"github.com/elimu-market/checkout/internal/domain/payment"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, invoice_number, status, payment_method,
			transaction_reference, currency, subtotal, tax, discount, total,
			coupon_id, coupon_code, shipping_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	insertItemSQL = `INSERT INTO order_items (id, order_id, product_id, product_title, is_digital,
			download_url, unit_price, quantity, line_total)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`

	selectOrderSQL = `SELECT id, user_id, invoice_number, status, payment_method,
			transaction_reference, currency, subtotal, tax, discount, total,
			coupon_id, coupon_code, shipping_address, metadata, paid_at, cancelled_at, created_at
		FROM orders`

	selectItemsSQL = `SELECT id, order_id, COALESCE(product_id, ''), product_title, is_digital,
			download_url, download_token, download_expires_at, remaining_downloads,
			unit_price, quantity, line_total
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	// The status predicate makes the PAID transition a compare-and-swap:
	// exactly one of any number of concurrent callers flips the row.
	markPaidSQL = `UPDATE orders SET status = 'PAID',
			paid_at = COALESCE(paid_at, $2),
			payment_method = CASE WHEN payment_method = '' THEN $3 ELSE payment_method END
		WHERE id = $1 AND status = 'PENDING_PAYMENT'`

	// Conditional decrement: refuses to take stock below zero.
	decrementStockSQL = `UPDATE products SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity IS NOT NULL AND stock_quantity >= $2`

	fulfillItemSQL = `UPDATE order_items SET
			download_token = CASE WHEN download_token = '' THEN $2 ELSE download_token END,
			download_expires_at = $3,
			remaining_downloads = $4
		WHERE id = $1`

	cancelPendingSQL = `UPDATE orders SET status = 'CANCELLED',
			cancelled_at = COALESCE(cancelled_at, $2)
		WHERE id = $1 AND status = 'PENDING_PAYMENT'`

	setTransactionSQL = `UPDATE orders SET transaction_reference = $2,
			payment_method = CASE WHEN $3 <> '' THEN $3 ELSE payment_method END
		WHERE id = $1`

	// Decrement-if-positive: the RETURNING clause only fires when a row
	// matched, so an exhausted quota yields pgx.ErrNoRows.
	decrementDownloadSQL = `UPDATE order_items
		SET remaining_downloads = remaining_downloads - 1
		WHERE id = $1 AND remaining_downloads > 0
		RETURNING remaining_downloads`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and all of its items in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	metadata, err := marshalMetadata(o.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling order metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.InvoiceNumber, string(o.Status), string(o.PaymentMethod),
		o.TransactionReference, o.Currency, o.Subtotal, o.Tax, o.Discount, o.Total,
		o.CouponID, o.CouponCode, nilIfEmpty(o.ShippingAddress), metadata, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, insertItemSQL,
			item.ID, o.ID, item.ProductID, item.ProductTitle, item.IsDigital,
			item.DownloadURL, item.UnitPrice, item.Quantity, item.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("creating order item %q: %w", item.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the hydrated order, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, selectOrderSQL+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	items, err := r.itemsByOrderIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, f order.ListFilter) ([]order.Order, error) {
	query := selectOrderSQL + " WHERE user_id = $1"
	args := []any{userID}
	if f.Status != "" {
		query += " AND status = $2"
		args = append(args, string(f.Status))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := r.itemsByOrderIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// SetTransaction stores the gateway reference and resolved payment method.
func (r *OrderRepository) SetTransaction(ctx context.Context, orderID, reference string, method payment.Method) error {
	_, err := r.pool.Exec(ctx, setTransactionSQL, orderID, reference, string(method))
	if err != nil {
		return fmt.Errorf("storing transaction for order %q: %w", orderID, err)
	}
	return nil
}

// MarkPaid applies the full PAID transition in one transaction. The status
// CAS claims the order; stock decrements and item fulfillment ride in the
// same transaction, so an insufficient-inventory failure rolls everything
// back and the order stays PENDING_PAYMENT.
func (r *OrderRepository) MarkPaid(ctx context.Context, p order.MarkPaidParams) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, markPaidSQL, p.OrderID, p.PaidAt, string(p.Method))
	if err != nil {
		return fmt.Errorf("marking order %q paid: %w", p.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotPending
	}

	for _, d := range p.Decrements {
		tag, err := tx.Exec(ctx, decrementStockSQL, d.ProductID, d.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock for product %q: %w", d.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return &order.InsufficientInventoryError{ProductID: d.ProductID}
		}
	}

	for _, f := range p.Fulfillments {
		_, err := tx.Exec(ctx, fulfillItemSQL,
			f.ItemID, f.DownloadToken, f.ExpiresAt, f.RemainingDownloads,
		)
		if err != nil {
			return fmt.Errorf("fulfilling item %q: %w", f.ItemID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing paid transition for order %q: %w", p.OrderID, err)
	}
	return nil
}

// CancelPending flips a PENDING_PAYMENT order to CANCELLED.
func (r *OrderRepository) CancelPending(ctx context.Context, orderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, cancelPendingSQL, orderID, at)
	if err != nil {
		return fmt.Errorf("cancelling order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotPending
	}
	return nil
}

// DecrementDownload consumes one remaining download, returning the new
// count, or order.ErrDownloadLimitReached when the quota is exhausted.
func (r *OrderRepository) DecrementDownload(ctx context.Context, itemID string) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx, decrementDownloadSQL, itemID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, order.ErrDownloadLimitReached
		}
		return 0, fmt.Errorf("decrementing downloads for item %q: %w", itemID, err)
	}
	return remaining, nil
}

func (r *OrderRepository) itemsByOrderIDs(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	rows, err := r.pool.Query(ctx, selectItemsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}

	grouped := make(map[string][]order.Item, len(orderIDs))
	for _, item := range items {
		grouped[item.OrderID] = append(grouped[item.OrderID], item)
	}
	return grouped, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		method        string
		shippingBytes []byte
		metadataBytes []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.InvoiceNumber, &status, &method,
		&o.TransactionReference, &o.Currency, &o.Subtotal, &o.Tax, &o.Discount, &o.Total,
		&o.CouponID, &o.CouponCode, &shippingBytes, &metadataBytes,
		&o.PaidAt, &o.CancelledAt, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.PaymentMethod = payment.Method(method)
	o.ShippingAddress = shippingBytes
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &o.Metadata); err != nil {
			return o, fmt.Errorf("unmarshaling order metadata: %w", err)
		}
	}
	return o, nil
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var item order.Item
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.ProductTitle, &item.IsDigital,
		&item.DownloadURL, &item.DownloadToken, &item.DownloadExpiresAt, &item.RemainingDownloads,
		&item.UnitPrice, &item.Quantity, &item.LineTotal,
	)
	return item, err
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
