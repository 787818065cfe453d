package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/delivery"
	"github.com/openmart/storefront-core/internal/domain/order"
)

const orderColumns = `id, tenant_id, customer_id, tracking_token, status,
	subtotal, discount, total, coupon_id, coupon_code,
	delivery_address, delivery_person_id, estimated_delivery_at,
	payment_method, payment_status, payment_reference, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (tenant_id, customer_id, tracking_token, status,
			subtotal, discount, total, coupon_id, coupon_code, delivery_address,
			payment_method, payment_status, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	insertItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, status, note, actor_id)
		VALUES ($1, $2, NULLIF($3, ''), $4)`

	// Guarded increment: refuses the last slot to a second concurrent
	// redemption instead of checking-then-writing in application code.
	incrementCouponUsesSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	insertCouponUseSQL = `INSERT INTO coupon_uses (coupon_id, user_id, order_id)
		VALUES ($1, $2, $3)`

	lockOrderSQL = `SELECT status, customer_id FROM orders
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE NOWAIT`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	assignDeliverySQL = `UPDATE orders SET status = $2, delivery_person_id = $3,
			estimated_delivery_at = $4, updated_at = now()
		WHERE id = $1`

	countDeliveredSQL = `SELECT COUNT(*) FROM orders
		WHERE tenant_id = $1 AND customer_id = $2 AND status = 'delivered'`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// coupon_code is stored denormalized on the order row so historical orders
// keep their code even if the coupon is later renamed.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order, its items, the initial history row and the
// optional coupon redemption in one transaction. Any failure, including a
// lost race for the coupon's last usage slot, rolls everything back.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, use *coupon.Use) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.TenantID, o.CustomerID, o.TrackingToken, o.Status,
			o.Subtotal, o.Discount, o.Total, o.CouponID, o.CouponCode, o.DeliveryAddress,
			o.PaymentMethod, o.PaymentStatus, o.PaymentReference,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		for i := range o.Items {
			o.Items[i].OrderID = o.ID
			err := tx.QueryRow(ctx, insertItemSQL,
				o.ID, o.Items[i].ProductID, o.Items[i].Quantity, o.Items[i].UnitPrice,
			).Scan(&o.Items[i].ID)
			if err != nil {
				return errors.Wrapf(err, "insert item %d", o.Items[i].ProductID)
			}
		}

		if _, err := tx.Exec(ctx, insertHistorySQL, o.ID, o.Status, "", o.CustomerID); err != nil {
			return errors.Wrap(err, "insert initial history")
		}

		if use != nil {
			tag, err := tx.Exec(ctx, incrementCouponUsesSQL, use.CouponID)
			if err != nil {
				return errors.Wrap(err, "increment coupon uses")
			}
			if tag.RowsAffected() == 0 {
				return coupon.ErrUsageLimitReached
			}
			use.OrderID = o.ID
			if _, err := tx.Exec(ctx, insertCouponUseSQL, use.CouponID, use.UserID, use.OrderID); err != nil {
				return errors.Wrap(err, "insert coupon use")
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, coupon.ErrUsageLimitReached) {
			return coupon.ErrUsageLimitReached
		}
		return errors.Wrapf(err, "creating order for tenant %d", o.TenantID)
	}
	return nil
}

// Transition moves the order to target under a NOWAIT row lock. A concurrent
// transition holding the lock surfaces as order.ErrConcurrentModification,
// which the caller may retry.
func (r *OrderRepository) Transition(ctx context.Context, tenantID, orderID int64, target order.Status, note string, actorID int64) (*order.Order, order.Status, error) {
	var prev order.Status

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var customerID int64
		if err := tx.QueryRow(ctx, lockOrderSQL, orderID, tenantID).Scan(&prev, &customerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			if isPgError(err, pgCodeLockNotAvailable) {
				return order.ErrConcurrentModification
			}
			return errors.Wrap(err, "lock order")
		}

		if !prev.CanTransitionTo(target) {
			return &order.InvalidTransitionError{From: prev, To: target}
		}

		if _, err := tx.Exec(ctx, updateStatusSQL, orderID, target); err != nil {
			return errors.Wrap(err, "update status")
		}
		if _, err := tx.Exec(ctx, insertHistorySQL, orderID, target, note, actorID); err != nil {
			return errors.Wrap(err, "append history")
		}
		return nil
	})
	if err != nil {
		return nil, "", transitionError(err, orderID)
	}

	o, err := r.Get(ctx, tenantID, orderID)
	if err != nil {
		return nil, "", err
	}
	return o, prev, nil
}

// AssignDelivery binds the delivery person and ETA and dispatches the order
// as one combined transaction. Cross-tenant references fail before anything
// is written.
func (r *OrderRepository) AssignDelivery(ctx context.Context, tenantID, orderID, personID int64, eta time.Time, actorID int64) (*order.Order, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			orderTenant int64
			prev        order.Status
		)
		err := tx.QueryRow(ctx,
			`SELECT tenant_id, status FROM orders WHERE id = $1 FOR UPDATE NOWAIT`, orderID,
		).Scan(&orderTenant, &prev)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			if isPgError(err, pgCodeLockNotAvailable) {
				return order.ErrConcurrentModification
			}
			return errors.Wrap(err, "lock order")
		}
		if orderTenant != tenantID {
			return order.ErrCrossTenant
		}

		var personTenant int64
		err = tx.QueryRow(ctx,
			`SELECT tenant_id FROM delivery_people WHERE id = $1`, personID,
		).Scan(&personTenant)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return delivery.ErrNotFound
			}
			return errors.Wrap(err, "lookup delivery person")
		}
		if personTenant != tenantID {
			return order.ErrCrossTenant
		}

		if !prev.CanTransitionTo(order.StatusOutForDelivery) {
			return &order.InvalidTransitionError{From: prev, To: order.StatusOutForDelivery}
		}

		if _, err := tx.Exec(ctx, assignDeliverySQL, orderID, order.StatusOutForDelivery, personID, eta); err != nil {
			return errors.Wrap(err, "assign delivery")
		}
		if _, err := tx.Exec(ctx, insertHistorySQL, orderID, order.StatusOutForDelivery, "delivery assigned", actorID); err != nil {
			return errors.Wrap(err, "append history")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE delivery_people SET status = $2 WHERE id = $1`, personID, delivery.StatusBusy); err != nil {
			return errors.Wrap(err, "mark delivery person busy")
		}
		return nil
	})
	if err != nil {
		return nil, transitionError(err, orderID)
	}
	return r.Get(ctx, tenantID, orderID)
}

// Get returns the order with its items, scoped to the tenant.
func (r *OrderRepository) Get(ctx context.Context, tenantID, id int64) (*order.Order, error) {
	return r.getWhere(ctx, `tenant_id = $1 AND id = $2`, tenantID, id)
}

// GetByTrackingToken returns the order for a public tracking token. The
// token is the capability; no tenant filter applies.
func (r *OrderRepository) GetByTrackingToken(ctx context.Context, token string) (*order.Order, error) {
	return r.getWhere(ctx, `tracking_token = $1`, token)
}

// ListForCustomer returns the customer's orders within the tenant, newest first.
func (r *OrderRepository) ListForCustomer(ctx context.Context, tenantID, customerID int64) ([]order.Order, error) {
	return r.listWhere(ctx, `tenant_id = $1 AND customer_id = $2`, tenantID, customerID)
}

// ListForTenant returns all of the tenant's orders, newest first.
func (r *OrderRepository) ListForTenant(ctx context.Context, tenantID int64) ([]order.Order, error) {
	return r.listWhere(ctx, `tenant_id = $1`, tenantID)
}

// History returns the order's audit trail, oldest first. The tenant filter
// runs through the orders table so history rows never leak across shops.
func (r *OrderRepository) History(ctx context.Context, tenantID, orderID int64) ([]order.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT h.id, h.order_id, h.status, COALESCE(h.note, ''), h.actor_id, h.created_at
		FROM order_status_history h
		JOIN orders o ON o.id = h.order_id
		WHERE o.tenant_id = $1 AND h.order_id = $2
		ORDER BY h.id`, tenantID, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.HistoryEntry, error) {
		var e order.HistoryEntry
		err := row.Scan(&e.ID, &e.OrderID, &e.Status, &e.Note, &e.ActorID, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect history")
	}
	if len(entries) == 0 {
		// Either the order does not exist or it belongs to another tenant;
		// indistinguishable on purpose.
		return nil, order.ErrNotFound
	}
	return entries, nil
}

// CountDelivered returns how many delivered orders the customer has in the tenant.
func (r *OrderRepository) CountDelivered(ctx context.Context, tenantID, customerID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countDeliveredSQL, tenantID, customerID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count delivered orders")
	}
	return n, nil
}

func (r *OrderRepository) getWhere(ctx context.Context, where string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}
	if err := r.loadItems(ctx, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) listWhere(ctx context.Context, where string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "collect orders")
	}

	refs := make([]*order.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := r.loadItems(ctx, refs); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return errors.Wrap(err, "query order items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice)
		return it, err
	})
	if err != nil {
		return errors.Wrap(err, "collect order items")
	}
	for _, it := range items {
		o := byID[it.OrderID]
		o.Items = append(o.Items, it)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &o.TrackingToken, &o.Status,
		&o.Subtotal, &o.Discount, &o.Total, &o.CouponID, &o.CouponCode,
		&o.DeliveryAddress, &o.DeliveryPersonID, &o.EstimatedDeliveryAt,
		&o.PaymentMethod, &o.PaymentStatus, &o.PaymentReference,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// transitionError strips the wrap from domain errors the caller matches on.
func transitionError(err error, orderID int64) error {
	var itErr *order.InvalidTransitionError
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrCrossTenant),
		errors.Is(err, order.ErrConcurrentModification),
		errors.Is(err, delivery.ErrNotFound),
		errors.As(err, &itErr):
		return err
	default:
		return errors.Wrapf(err, "transition order %d", orderID)
	}
}
