// Command coupon-ingest bulk-loads promo codes into a tenant's coupon table
// from gzip-compressed code lists, one code per line. Marketing campaigns
// export tens of millions of candidate codes; a bloom filter keeps the
// in-memory dedupe set small while files are streamed concurrently.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/openmart/storefront-core/internal/storage/postgres"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
	batchSize     = 1000
)

func main() {
	var (
		databaseURL string
		tenantID    int64
		value       string
		usageLimit  int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Int64Var(&tenantID, "tenant", 0, "tenant id to load the codes into")
	flag.StringVar(&value, "value", "10", "percentage discount each code grants")
	flag.IntVar(&usageLimit, "usage-limit", 1, "total uses per code, 0 for unlimited")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if tenantID <= 0 {
		slog.Error("--tenant is required")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("at least one code file is required")
		os.Exit(1)
	}
	discount, err := decimal.NewFromString(value)
	if err != nil || discount.IsNegative() {
		slog.Error("--value must be a non-negative decimal")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, tenantID, discount, usageLimit, flag.Args()); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, tenantID int64, discount decimal.Decimal, usageLimit int, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// The bloom filter answers "definitely new" cheaply; the rare false
	// positive only skips a code, never inserts a duplicate, and the unique
	// constraint backstops everything anyway.
	var (
		mu     sync.Mutex
		seen   = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		unique []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			var count uint64
			err := streamGzFile(gctx, path, func(code string) {
				code = strings.ToUpper(strings.TrimSpace(code))
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("scan progress", slog.String("file", path), slog.Uint64("codes", count))
				}

				mu.Lock()
				if !seen.TestString(code) {
					seen.AddString(code)
					unique = append(unique, code)
				}
				mu.Unlock()
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			slog.Info("scan complete", slog.String("file", path), slog.Uint64("total_codes", count))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("unique codes found", slog.Int("count", len(unique)))
	if len(unique) == 0 {
		return nil
	}

	return writeCoupons(ctx, pool, tenantID, discount, usageLimit, unique)
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

// writeCoupons inserts the codes for the tenant in batches. Existing codes
// are left untouched so re-running an ingest is safe.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, tenantID int64, discount decimal.Decimal, usageLimit int, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for start := 0; start < len(codes); start += batchSize {
		end := min(start+batchSize, len(codes))

		batch := &pgx.Batch{}
		for _, code := range codes[start:end] {
			batch.Queue(
				`INSERT INTO coupons (tenant_id, code, discount_type, value, usage_limit)
				VALUES ($1, $2, 'percentage', $3, $4)
				ON CONFLICT (tenant_id, code) DO NOTHING`,
				tenantID, code, discount, usageLimit)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert batch at %d", start)
		}

		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}
	return nil
}
