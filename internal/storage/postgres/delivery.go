package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/domain/delivery"
)

var _ delivery.Repository = (*DeliveryRepository)(nil)

// DeliveryRepository implements delivery.Repository backed by PostgreSQL.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository returns a DeliveryRepository that uses the given pool.
func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func (r *DeliveryRepository) GetByID(ctx context.Context, tenantID, id int64) (*delivery.Person, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, phone, status FROM delivery_people
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, errors.Wrap(err, "query delivery person")
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPerson)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan delivery person")
	}
	return &p, nil
}

func (r *DeliveryRepository) ListByTenant(ctx context.Context, tenantID int64) ([]delivery.Person, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, phone, status FROM delivery_people
		WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "query delivery people")
	}
	people, err := pgx.CollectRows(rows, scanPerson)
	if err != nil {
		return nil, errors.Wrap(err, "collect delivery people")
	}
	return people, nil
}

func (r *DeliveryRepository) SetStatus(ctx context.Context, tenantID, id int64, status delivery.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE delivery_people SET status = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, status)
	if err != nil {
		return errors.Wrap(err, "update delivery person status")
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

func scanPerson(row pgx.CollectableRow) (delivery.Person, error) {
	var p delivery.Person
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Phone, &p.Status)
	return p, err
}
