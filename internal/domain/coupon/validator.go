package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validate checks whether c may be redeemed by the given user for the given
// purchase amount. Checks run in a fixed order and short-circuit on the first
// failure: active flag, validity window, total usage limit, minimum purchase,
// per-user usage limit. It is pure apart from the clock: per-user counts are
// passed in by the caller.
func Validate(c *Coupon, now time.Time, purchase decimal.Decimal, userUses int) error {
	if !c.Active {
		return ErrInactive
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ErrExpired
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return ErrUsageLimitReached
	}
	if c.MinPurchase.IsPositive() && purchase.LessThan(c.MinPurchase) {
		return ErrMinPurchaseNotMet
	}
	if c.UsageLimitPerUser > 0 && userUses >= c.UsageLimitPerUser {
		return ErrUserLimitReached
	}
	return nil
}

// IsInvalid reports whether err is one of the coupon validation failures, as
// opposed to an infrastructure error.
func IsInvalid(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInactive, ErrExpired,
		ErrUsageLimitReached, ErrMinPurchaseNotMet, ErrUserLimitReached,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Checker validates a coupon code for a candidate purchase and returns the
// matched coupon together with its computed discount. Used both by checkout
// itself and by the read-only preview endpoint.
type Checker struct {
	repo Repository
	now  func() time.Time
}

// NewChecker creates a Checker backed by the given Repository.
func NewChecker(repo Repository) *Checker {
	return &Checker{repo: repo, now: time.Now}
}

// Check looks up the code within the tenant, validates it for the user and
// purchase amount, and computes the discount. It does not consume the coupon;
// redemption accounting happens atomically with order creation.
func (ch *Checker) Check(ctx context.Context, tenantID int64, code string, userID int64, purchase decimal.Decimal) (*Coupon, decimal.Decimal, error) {
	c, err := ch.repo.FindByCode(ctx, tenantID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, decimal.Zero, ErrNotFound
		}
		return nil, decimal.Zero, errors.Wrap(err, "lookup coupon")
	}

	userUses, err := ch.repo.CountUsesByUser(ctx, c.ID, userID)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "count coupon uses")
	}

	if err := Validate(c, ch.now(), purchase, userUses); err != nil {
		return nil, decimal.Zero, err
	}

	return c, ComputeDiscount(c, purchase), nil
}
