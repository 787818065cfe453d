package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/domain/referral"
)

var _ referral.Repository = (*ReferralRepository)(nil)

// ReferralRepository implements referral.Repository backed by PostgreSQL.
type ReferralRepository struct {
	pool *pgxpool.Pool
}

// NewReferralRepository returns a ReferralRepository that uses the given pool.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{pool: pool}
}

const referralColumns = `id, tenant_id, referrer_id, referred_id, code, status,
	referrer_points, referred_points, completed_at, created_at`

// Create inserts the referral. The unique constraint on referred_id turns a
// concurrent second redemption into ErrAlreadyReferred.
func (r *ReferralRepository) Create(ctx context.Context, ref *referral.Referral) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO referrals
			(tenant_id, referrer_id, referred_id, code, status, referrer_points, referred_points)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		ref.TenantID, ref.ReferrerID, ref.ReferredID, ref.Code,
		ref.Status, ref.ReferrerPoints, ref.ReferredPoints,
	).Scan(&ref.ID, &ref.CreatedAt)
	if err != nil {
		if isPgError(err, pgCodeUniqueViolation) {
			return referral.ErrAlreadyReferred
		}
		return errors.Wrap(err, "insert referral")
	}
	return nil
}

func (r *ReferralRepository) GetByID(ctx context.Context, tenantID, id int64) (*referral.Referral, error) {
	return r.getWhere(ctx, `tenant_id = $1 AND id = $2`, tenantID, id)
}

func (r *ReferralRepository) FindPendingByReferred(ctx context.Context, tenantID, referredID int64) (*referral.Referral, error) {
	return r.getWhere(ctx, `tenant_id = $1 AND referred_id = $2 AND status = 'pending'`, tenantID, referredID)
}

// MarkRewarded flips the referral to rewarded only if it is still pending.
// The WHERE clause is the guard; a referral processed by a concurrent caller
// matches zero rows and applied comes back false.
func (r *ReferralRepository) MarkRewarded(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE referrals SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, referral.StatusRewarded, at)
	if err != nil {
		return false, errors.Wrap(err, "mark referral rewarded")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, tenantID, referrerID int64) ([]referral.Referral, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+referralColumns+` FROM referrals
		WHERE tenant_id = $1 AND referrer_id = $2
		ORDER BY id DESC`, tenantID, referrerID)
	if err != nil {
		return nil, errors.Wrap(err, "query referrals")
	}
	refs, err := pgx.CollectRows(rows, scanReferral)
	if err != nil {
		return nil, errors.Wrap(err, "collect referrals")
	}
	return refs, nil
}

func (r *ReferralRepository) getWhere(ctx context.Context, where string, args ...any) (*referral.Referral, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+referralColumns+` FROM referrals WHERE `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query referral")
	}
	ref, err := pgx.CollectExactlyOneRow(rows, scanReferral)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referral.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan referral")
	}
	return &ref, nil
}

func scanReferral(row pgx.CollectableRow) (referral.Referral, error) {
	var ref referral.Referral
	err := row.Scan(&ref.ID, &ref.TenantID, &ref.ReferrerID, &ref.ReferredID,
		&ref.Code, &ref.Status, &ref.ReferrerPoints, &ref.ReferredPoints,
		&ref.CompletedAt, &ref.CreatedAt)
	return ref, err
}
