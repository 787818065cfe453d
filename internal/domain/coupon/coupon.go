package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the purchase amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the purchase amount.
	DiscountFixed DiscountType = "fixed"
)

// Validation failures carry a specific reason so checkout UIs can explain
// why a code was rejected. All of them are coupon-invalid conditions.
var (
	// ErrNotFound is returned when no coupon with the code exists in the tenant.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when the coupon has been switched off.
	ErrInactive = errors.New("coupon is not active")
	// ErrExpired is returned when the current time is outside the validity window.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when the coupon has exhausted its total uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinPurchaseNotMet is returned when the purchase amount is below the minimum.
	ErrMinPurchaseNotMet = errors.New("purchase amount below coupon minimum")
	// ErrUserLimitReached is returned when this customer has used the coupon too often.
	ErrUserLimitReached = errors.New("coupon per-customer limit reached")
)

// Coupon is a tenant-scoped discount rule. Zero values mean "no constraint":
// a zero MinPurchase, MaxDiscount, UsageLimit or UsageLimitPerUser leaves the
// corresponding check disabled.
type Coupon struct {
	ID                int64
	TenantID          int64
	Code              string
	DiscountType      DiscountType
	Value             decimal.Decimal
	MinPurchase       decimal.Decimal
	MaxDiscount       decimal.Decimal
	UsageLimit        int
	UsageLimitPerUser int
	// UsedCount is a cached aggregate of coupon_uses rows. The repository
	// reconciles it transactionally with every redemption; the rows are the
	// source of truth.
	UsedCount int
	Active    bool
	StartsAt  *time.Time
	ExpiresAt *time.Time
}

// Use records a single redemption, tying a coupon to the order that consumed it.
type Use struct {
	ID        int64
	CouponID  int64
	UserID    int64
	OrderID   int64
	CreatedAt time.Time
}

// Repository provides tenant-scoped coupon lookups and usage accounting.
type Repository interface {
	// FindByCode returns the coupon with the given code within the tenant,
	// or ErrNotFound. Lookup is case-insensitive.
	FindByCode(ctx context.Context, tenantID int64, code string) (*Coupon, error)
	// CountUsesByUser returns how many times the user has redeemed the coupon.
	CountUsesByUser(ctx context.Context, couponID, userID int64) (int, error)
}
