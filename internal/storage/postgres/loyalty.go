package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/domain/loyalty"
)

var _ loyalty.Repository = (*LoyaltyRepository)(nil)

// LoyaltyRepository implements loyalty.Repository backed by PostgreSQL.
type LoyaltyRepository struct {
	pool *pgxpool.Pool
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{pool: pool}
}

// Append inserts the ledger entry and folds its delta into the cached balance
// in one transaction. The unique index on idempotency_key makes the insert a
// silent no-op on replay, in which case the balance is left untouched and
// applied is false.
func (r *LoyaltyRepository) Append(ctx context.Context, txn loyalty.Transaction) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO loyalty_transactions
				(user_id, tenant_id, points, type, description, order_id, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING id`,
			txn.UserID, txn.TenantID, txn.Points, txn.Type,
			txn.Description, txn.OrderID, txn.IdempotencyKey,
		).Scan(&txn.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			// Key already used, nothing to apply.
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "insert transaction")
		}
		applied = true

		earned := int64(0)
		spent := int64(0)
		if txn.Points > 0 {
			earned = txn.Points
		} else {
			spent = -txn.Points
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO loyalty_points (user_id, tenant_id, balance, lifetime_earned, lifetime_spent)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, tenant_id) DO UPDATE SET
				balance = loyalty_points.balance + EXCLUDED.balance,
				lifetime_earned = loyalty_points.lifetime_earned + EXCLUDED.lifetime_earned,
				lifetime_spent = loyalty_points.lifetime_spent + EXCLUDED.lifetime_spent,
				updated_at = now()`,
			txn.UserID, txn.TenantID, txn.Points, earned, spent)
		if err != nil {
			return errors.Wrap(err, "update balance")
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "append loyalty transaction for user %d", txn.UserID)
	}
	return applied, nil
}

// GetBalance returns the cached balance row. A pair without history gets a
// zero-valued row rather than an error.
func (r *LoyaltyRepository) GetBalance(ctx context.Context, tenantID, userID int64) (*loyalty.Points, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, tenant_id, balance, lifetime_earned, lifetime_spent, updated_at
		FROM loyalty_points
		WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query balance")
	}
	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (loyalty.Points, error) {
		var p loyalty.Points
		err := row.Scan(&p.UserID, &p.TenantID, &p.Balance,
			&p.LifetimeEarned, &p.LifetimeSpent, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &loyalty.Points{UserID: userID, TenantID: tenantID}, nil
		}
		return nil, errors.Wrap(err, "scan balance")
	}
	return &p, nil
}

// ListTransactions returns the pair's ledger entries, newest first.
func (r *LoyaltyRepository) ListTransactions(ctx context.Context, tenantID, userID int64) ([]loyalty.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, tenant_id, points, type, COALESCE(description, ''),
			order_id, idempotency_key, created_at
		FROM loyalty_transactions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY id DESC`, tenantID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query transactions")
	}
	txns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (loyalty.Transaction, error) {
		var t loyalty.Transaction
		err := row.Scan(&t.ID, &t.UserID, &t.TenantID, &t.Points, &t.Type,
			&t.Description, &t.OrderID, &t.IdempotencyKey, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect transactions")
	}
	return txns, nil
}
