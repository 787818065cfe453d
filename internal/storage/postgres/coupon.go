package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode returns the tenant's coupon with the given code. Codes are
// stored uppercase and matched case-insensitively.
func (r *CouponRepository) FindByCode(ctx context.Context, tenantID int64, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, code, discount_type, value,
			COALESCE(min_purchase_amount, 0), COALESCE(max_discount_amount, 0),
			usage_limit, usage_limit_per_user, used_count, active, starts_at, expires_at
		FROM coupons
		WHERE tenant_id = $1 AND code = UPPER($2)`, tenantID, code)
	if err != nil {
		return nil, errors.Wrap(err, "query coupon")
	}
	c, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (coupon.Coupon, error) {
		var c coupon.Coupon
		err := row.Scan(&c.ID, &c.TenantID, &c.Code, &c.DiscountType, &c.Value,
			&c.MinPurchase, &c.MaxDiscount, &c.UsageLimit, &c.UsageLimitPerUser,
			&c.UsedCount, &c.Active, &c.StartsAt, &c.ExpiresAt)
		return c, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan coupon")
	}
	return &c, nil
}

// CountUsesByUser counts redemption rows, not the cached aggregate, so the
// per-customer limit check reflects committed redemptions only.
func (r *CouponRepository) CountUsesByUser(ctx context.Context, couponID, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_uses WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count coupon uses")
	}
	return n, nil
}
