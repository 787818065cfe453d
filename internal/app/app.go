// Package app wires configuration, storage, domain services and the HTTP
// server together and owns the process lifecycle.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/openmart/storefront-core/internal/api"
	"github.com/openmart/storefront-core/internal/cache"
	"github.com/openmart/storefront-core/internal/catalog"
	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/loyalty"
	"github.com/openmart/storefront-core/internal/domain/order"
	"github.com/openmart/storefront-core/internal/domain/product"
	"github.com/openmart/storefront-core/internal/domain/referral"
	"github.com/openmart/storefront-core/internal/storage/postgres"
	"github.com/openmart/storefront-core/pkg/health"
	"github.com/openmart/storefront-core/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	deliveryRepo := postgres.NewDeliveryRepository(pool)
	loyaltyRepo := postgres.NewLoyaltyRepository(pool)
	referralRepo := postgres.NewReferralRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Catalog: local table by default, remote service when configured.
	var cat product.Catalog = postgres.NewProductRepository(pool)
	if cfg.CatalogURL != "" {
		lg.Info("Using remote catalog", zap.String("url", cfg.CatalogURL))
		cat = catalog.NewClient(cfg.CatalogURL)
	}

	// Optional Redis cache for public tracking lookups.
	var trackCache api.TrackingCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		trackCache = cache.NewTracking(rdb)
	}

	// Domain services.
	couponChecker := coupon.NewChecker(couponRepo)
	loyaltySvc := loyalty.NewService(loyaltyRepo)
	referralSvc := referral.NewService(referralRepo, loyaltySvc, referral.Rewards{
		ReferrerPoints: cfg.Referral.ReferrerPoints,
		ReferredPoints: cfg.Referral.ReferredPoints,
	})
	orderSvc := order.NewService(cat, couponChecker, orderRepo, loyaltySvc, referralSvc,
		order.Config{EarnRate: cfg.Loyalty.EarnRate})

	// HTTP handlers.
	h := api.NewHandler(orderSvc, couponChecker, loyaltySvc, referralSvc, deliveryRepo, trackCache)
	sec := api.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(mux, sec)

	handler := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{"Content-Type", "X-API-Key"},
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.Logging(),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(handler, "storefront-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
