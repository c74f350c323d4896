// Command seed-catalog loads product fixtures and an API key into the
// database. Fixture files are JSON arrays of products, optionally
// gzip-compressed (.json.gz); multiple files load concurrently.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/elimu-market/checkout/internal/handler"
	"github.com/elimu-market/checkout/internal/storage/postgres"
)

type productJSON struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	Currency            string          `json:"currency"`
	IsDigital           bool            `json:"isDigital"`
	StockQuantity       *int            `json:"stockQuantity"`
	DownloadURL         string          `json:"downloadUrl"`
	DownloadLimit       int             `json:"downloadLimit"`
	DownloadExpiresDays int             `json:"downloadExpiresDays"`
	Published           *bool           `json:"published"`
}

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyUser   string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyUser, "api-key-user", "seed-user", "user ID the seeded API key belongs to")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	files := flag.Args()
	if len(files) == 0 {
		files = []string{"db/seed/products.json"}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, apiKey, apiKeyUser, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, apiKey, apiKeyUser, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return seedProducts(gctx, pool, file)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if apiKey != "" {
		if err := seedAPIKey(ctx, pool, apiKey, apiKeyUser, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, file string) error {
	slog.Info("reading products file", slog.String("path", file))

	products, err := readProducts(file)
	if err != nil {
		return err
	}

	const upsertSQL = `INSERT INTO products
		(id, title, unit_price, currency, is_digital, stock_quantity,
		 download_url, download_limit, download_expires_days, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			unit_price = EXCLUDED.unit_price,
			currency = EXCLUDED.currency,
			is_digital = EXCLUDED.is_digital,
			stock_quantity = EXCLUDED.stock_quantity,
			download_url = EXCLUDED.download_url,
			download_limit = EXCLUDED.download_limit,
			download_expires_days = EXCLUDED.download_expires_days,
			published = EXCLUDED.published`

	for _, p := range products {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.DownloadLimit <= 0 {
			p.DownloadLimit = 3
		}
		if p.DownloadExpiresDays <= 0 {
			p.DownloadExpiresDays = 7
		}
		published := true
		if p.Published != nil {
			published = *p.Published
		}

		_, err := pool.Exec(ctx, upsertSQL,
			p.ID, p.Title, p.UnitPrice, p.Currency, p.IsDigital, p.StockQuantity,
			p.DownloadURL, p.DownloadLimit, p.DownloadExpiresDays, published)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("products seeded", slog.String("path", file), slog.Int("count", len(products)))
	return nil
}

func readProducts(file string) ([]productJSON, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(file, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip reader")
		}
		defer gz.Close()
		r = gz
	}

	var products []productJSON
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, userID, pepper string) error {
	const upsertSQL = `INSERT INTO api_keys (id, user_id, key_hash, name, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (key_hash) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			active = TRUE`

	hash := handler.HashAPIKey(pepper, apiKey)
	_, err := pool.Exec(ctx, upsertSQL, uuid.New().String(), userID, hash, "seed")
	if err != nil {
		return errors.Wrap(err, "upsert api key")
	}

	slog.Info("api key seeded", slog.String("user_id", userID))
	return nil
}
