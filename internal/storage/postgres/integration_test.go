//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/loyalty"
	"github.com/openmart/storefront-core/internal/domain/order"
	"github.com/openmart/storefront-core/internal/domain/referral"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "mart",
				"POSTGRES_PASSWORD": "mart",
				"POSTGRES_DB":       "mart",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://mart:mart@%s:%s/mart?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

type fixture struct {
	pool      *pgxpool.Pool
	tenantID  int64
	productID int64
}

func seedFixture(t *testing.T, pool *pgxpool.Pool) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	f.pool = pool
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ('Test Shop') RETURNING id`).Scan(&f.tenantID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO products (tenant_id, name, price) VALUES ($1, 'Pizza', 100) RETURNING id`,
		f.tenantID).Scan(&f.productID))
	return f
}

func (f fixture) newOrder(customerID int64) *order.Order {
	return &order.Order{
		TenantID:        f.tenantID,
		CustomerID:      customerID,
		TrackingToken:   order.NewTrackingToken(),
		Status:          order.StatusPending,
		Subtotal:        decimal.NewFromInt(100),
		Total:           decimal.NewFromInt(100),
		DeliveryAddress: "12 Main St",
		PaymentStatus:   "unpaid",
		Items: []order.Item{
			{ProductID: f.productID, Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
	}
}

func TestOrderLifecycle(t *testing.T) {
	pool := startPostgres(t)
	f := seedFixture(t, pool)
	ctx := context.Background()
	repo := NewOrderRepository(pool)

	o := f.newOrder(100)
	require.NoError(t, repo.Create(ctx, o, nil))
	require.NotZero(t, o.ID)
	require.NotZero(t, o.Items[0].ID)

	got, err := repo.Get(ctx, f.tenantID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)))
	require.Len(t, got.Items, 1)

	// Audit trail starts at pending.
	history, err := repo.History(ctx, f.tenantID, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, order.StatusPending, history[0].Status)

	// Walk the forward chain.
	for _, target := range []order.Status{
		order.StatusConfirmed, order.StatusPreparing,
		order.StatusOutForDelivery, order.StatusDelivered,
	} {
		updated, prev, err := repo.Transition(ctx, f.tenantID, o.ID, target, "", 1)
		require.NoError(t, err, target)
		assert.Equal(t, target, updated.Status)
		assert.NotEqual(t, prev, target)
	}

	history, err = repo.History(ctx, f.tenantID, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 5)
	assert.Equal(t, order.StatusDelivered, history[4].Status)

	// Terminal order admits nothing further.
	_, _, err = repo.Transition(ctx, f.tenantID, o.ID, order.StatusCancelled, "", 1)
	var itErr *order.InvalidTransitionError
	assert.ErrorAs(t, err, &itErr)

	n, err := repo.CountDelivered(ctx, f.tenantID, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransitionCrossTenantIsNotFound(t *testing.T) {
	pool := startPostgres(t)
	f := seedFixture(t, pool)
	ctx := context.Background()
	repo := NewOrderRepository(pool)

	o := f.newOrder(100)
	require.NoError(t, repo.Create(ctx, o, nil))

	var otherTenant int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ('Other Shop') RETURNING id`).Scan(&otherTenant))

	_, _, err := repo.Transition(ctx, otherTenant, o.ID, order.StatusConfirmed, "", 1)
	assert.ErrorIs(t, err, order.ErrNotFound)

	_, err = repo.Get(ctx, otherTenant, o.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestCouponUsageLimitIsEnforcedAtomically(t *testing.T) {
	pool := startPostgres(t)
	f := seedFixture(t, pool)
	ctx := context.Background()
	repo := NewOrderRepository(pool)

	var couponID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO coupons (tenant_id, code, discount_type, value, usage_limit)
		VALUES ($1, 'LASTONE', 'percentage', 10, 1) RETURNING id`, f.tenantID).Scan(&couponID))

	first := f.newOrder(100)
	require.NoError(t, repo.Create(ctx, first, &coupon.Use{CouponID: couponID, UserID: 100}))

	// The second redemption loses the slot and the whole order rolls back.
	second := f.newOrder(101)
	err := repo.Create(ctx, second, &coupon.Use{CouponID: couponID, UserID: 101})
	require.ErrorIs(t, err, coupon.ErrUsageLimitReached)

	var orders, uses, used int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orders))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM coupon_uses`).Scan(&uses))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT used_count FROM coupons WHERE id = $1`, couponID).Scan(&used))
	assert.Equal(t, 1, orders, "losing order must not persist")
	assert.Equal(t, 1, uses)
	assert.Equal(t, 1, used)
}

func TestLoyaltyAppendIsIdempotent(t *testing.T) {
	pool := startPostgres(t)
	f := seedFixture(t, pool)
	ctx := context.Background()
	repo := NewLoyaltyRepository(pool)

	txn := loyalty.Transaction{
		UserID:         100,
		TenantID:       f.tenantID,
		Points:         250,
		Type:           loyalty.TypeEarned,
		IdempotencyKey: "order:1:earned",
	}

	applied, err := repo.Append(ctx, txn)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.Append(ctx, txn)
	require.NoError(t, err)
	assert.False(t, applied, "replay must not apply")

	pts, err := repo.GetBalance(ctx, f.tenantID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(250), pts.Balance)
	assert.Equal(t, int64(250), pts.LifetimeEarned)

	// Spending moves balance and lifetime_spent.
	applied, err = repo.Append(ctx, loyalty.Transaction{
		UserID:         100,
		TenantID:       f.tenantID,
		Points:         -50,
		Type:           loyalty.TypeSpent,
		IdempotencyKey: "redeem:1",
	})
	require.NoError(t, err)
	require.True(t, applied)

	pts, err = repo.GetBalance(ctx, f.tenantID, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), pts.Balance)
	assert.Equal(t, int64(50), pts.LifetimeSpent)
}

func TestReferralUniquenessAndConditionalReward(t *testing.T) {
	pool := startPostgres(t)
	f := seedFixture(t, pool)
	ctx := context.Background()
	repo := NewReferralRepository(pool)

	r := &referral.Referral{
		TenantID:       f.tenantID,
		ReferrerID:     1,
		ReferredID:     100,
		Code:           referral.MakeCode(1),
		Status:         referral.StatusPending,
		ReferrerPoints: 100,
		ReferredPoints: 50,
	}
	require.NoError(t, repo.Create(ctx, r))

	dup := &referral.Referral{
		TenantID:   f.tenantID,
		ReferrerID: 2,
		ReferredID: 100,
		Code:       referral.MakeCode(2),
		Status:     referral.StatusPending,
	}
	assert.ErrorIs(t, repo.Create(ctx, dup), referral.ErrAlreadyReferred)

	applied, err := repo.MarkRewarded(ctx, r.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.MarkRewarded(ctx, r.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, applied, "already rewarded")

	_, err = repo.FindPendingByReferred(ctx, f.tenantID, 100)
	assert.ErrorIs(t, err, referral.ErrNotFound)
}
