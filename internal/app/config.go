package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (MART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (MART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// RedisAddr enables the tracking-lookup cache when set.
	RedisAddr string `default:"" usage:"Redis address for the tracking cache (empty disables caching)" flag:"redis-addr"`
	// CatalogURL switches product lookups to a remote catalog service. When
	// empty, the catalog is read from the core database.
	CatalogURL   string `default:"" usage:"Base URL of an external catalog service" flag:"catalog-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MART_API_KEY_PEPPER)" flag:"api-key-pepper"`

	Loyalty   LoyaltyConfig
	Referral  ReferralConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// LoyaltyConfig controls point accrual.
type LoyaltyConfig struct {
	// EarnRate is points earned per whole currency unit of a delivered
	// order's total. Zero disables accrual.
	EarnRate int64 `default:"1" usage:"Loyalty points per currency unit" flag:"earn-rate"`
}

// ReferralConfig controls referral reward payouts.
type ReferralConfig struct {
	ReferrerPoints int64 `default:"100" usage:"Points credited to the referrer" flag:"referrer-points"`
	ReferredPoints int64 `default:"50" usage:"Points credited to the referred user" flag:"referred-points"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Rate  float64 `default:"10" usage:"Sustained requests per second per client"`
	Burst int     `default:"30" usage:"Burst capacity per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MART",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MART_DATABASE_URL or DATABASE_URL")
	}
	if cfg.APIKeyPepper == "" {
		return nil, errors.New("API key pepper is required: set MART_API_KEY_PEPPER")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's MART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
