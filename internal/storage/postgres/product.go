package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/domain/product"
)

var _ product.Catalog = (*ProductRepository)(nil)

// ProductRepository implements product.Catalog backed by PostgreSQL. It is
// the default catalog when no external catalog service is configured.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns the tenant's available products among the requested ids.
// Missing, unavailable and foreign-tenant ids are simply absent from the
// result; the caller decides what absence means.
func (r *ProductRepository) GetByIDs(ctx context.Context, tenantID int64, ids []int64) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, name, price, available FROM products
		WHERE tenant_id = $1 AND id = ANY($2) AND available`, tenantID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var p product.Product
		err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Available)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect products")
	}
	return products, nil
}
