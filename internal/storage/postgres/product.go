package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elimu-market/checkout/internal/domain/catalog"
)

const findPurchasableSQL = `SELECT id, title, unit_price, currency, is_digital,
		stock_quantity, download_url, download_limit, download_expires_days
	FROM products WHERE id = ANY($1) AND published`

var _ catalog.Reader = (*ProductRepository)(nil)

// ProductRepository implements catalog.Reader backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindPurchasable returns the published products matching any of the given
// IDs. Missing IDs are simply absent from the result.
func (r *ProductRepository) FindPurchasable(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, findPurchasableSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("finding purchasable products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.UnitPrice, &p.Currency, &p.IsDigital,
		&p.StockQuantity, &p.DownloadURL, &p.DownloadLimit, &p.DownloadExpiresDays,
	)
	return p, err
}
