// Command seed-db provisions a demo tenant with products, coupons, delivery
// staff and two API keys (one staff, one customer) for local development.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openmart/storefront-core/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		tenantName  string
		staffKey    string
		customerKey string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&tenantName, "tenant-name", "Demo Shop", "name of the tenant to create")
	flag.StringVar(&staffKey, "staff-key", "", "staff API key to seed (or MART_SEED_STAFF_KEY env)")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or MART_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if staffKey == "" {
		staffKey = os.Getenv("MART_SEED_STAFF_KEY")
	}
	if customerKey == "" {
		customerKey = os.Getenv("MART_SEED_CUSTOMER_KEY")
	}
	if staffKey == "" || customerKey == "" {
		slog.Error("both --staff-key and --customer-key are required")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("MART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, tenantName, staffKey, customerKey, pepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, tenantName, staffKey, customerKey, pepper string) error {
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

	var tenantID int64
	if err := pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, tenantName,
	).Scan(&tenantID); err != nil {
		return errors.Wrap(err, "create tenant")
	}
	slog.Info("created tenant", slog.Int64("id", tenantID), slog.String("name", tenantName))

	if err := seedProducts(ctx, pool, tenantID); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, pool, tenantID); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedDeliveryPeople(ctx, pool, tenantID); err != nil {
		return errors.Wrap(err, "seed delivery people")
	}
	if err := seedAPIKey(ctx, pool, tenantID, 1, "staff", "Demo staff key", staffKey, pepper); err != nil {
		return errors.Wrap(err, "seed staff key")
	}
	if err := seedAPIKey(ctx, pool, tenantID, 100, "customer", "Demo customer key", customerKey, pepper); err != nil {
		return errors.Wrap(err, "seed customer key")
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, tenantID int64) error {
	products := []struct {
		name  string
		price string
	}{
		{"Margherita Pizza", "12.50"},
		{"Pepperoni Pizza", "14.00"},
		{"Caesar Salad", "8.75"},
		{"Garlic Bread", "4.25"},
		{"Tiramisu", "6.50"},
		{"Sparkling Water", "2.00"},
	}
	for _, p := range products {
		price, err := decimal.NewFromString(p.price)
		if err != nil {
			return errors.Wrapf(err, "parse price for %s", p.name)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO products (tenant_id, name, price) VALUES ($1, $2, $3)`,
			tenantID, p.name, price); err != nil {
			return errors.Wrapf(err, "insert product %s", p.name)
		}
		slog.Info("inserted product", slog.String("name", p.name), slog.String("price", p.price))
	}
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, tenantID int64) error {
	coupons := []struct {
		code         string
		discountType string
		value        string
		minPurchase  string
		maxDiscount  string
		usageLimit   int
		perUser      int
	}{
		{"WELCOME10", "percentage", "10", "0", "0", 0, 1},
		{"SAVE10", "percentage", "10", "1000", "500", 0, 0},
		{"FIVER", "fixed", "5", "20", "0", 100, 2},
	}
	for _, c := range coupons {
		if _, err := pool.Exec(ctx,
			`INSERT INTO coupons
				(tenant_id, code, discount_type, value, min_purchase_amount,
				max_discount_amount, usage_limit, usage_limit_per_user)
			VALUES ($1, $2, $3, $4, NULLIF($5, '0')::numeric, NULLIF($6, '0')::numeric, $7, $8)
			ON CONFLICT (tenant_id, code) DO NOTHING`,
			tenantID, c.code, c.discountType, c.value, c.minPurchase,
			c.maxDiscount, c.usageLimit, c.perUser); err != nil {
			return errors.Wrapf(err, "insert coupon %s", c.code)
		}
		slog.Info("inserted coupon", slog.String("code", c.code))
	}
	return nil
}

func seedDeliveryPeople(ctx context.Context, pool *pgxpool.Pool, tenantID int64) error {
	people := []struct{ name, phone string }{
		{"Alex Rider", "+1-555-0101"},
		{"Sam Porter", "+1-555-0102"},
	}
	for _, p := range people {
		if _, err := pool.Exec(ctx,
			`INSERT INTO delivery_people (tenant_id, name, phone) VALUES ($1, $2, $3)`,
			tenantID, p.name, p.phone); err != nil {
			return errors.Wrapf(err, "insert delivery person %s", p.name)
		}
		slog.Info("inserted delivery person", slog.String("name", p.name))
	}
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, tenantID, userID int64, role, name, key, pepper string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx,
		`INSERT INTO api_keys (tenant_id, user_id, role, name, key_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO NOTHING`,
		tenantID, userID, role, name, keyHash); err != nil {
		return errors.Wrap(err, "insert api key")
	}

	slog.Info("inserted api key", slog.String("role", role), slog.String("name", name))
	return nil
}
