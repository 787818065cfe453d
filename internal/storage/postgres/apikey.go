package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/storefront-core/internal/api"
)

var _ api.KeyStore = (*APIKeyRepository)(nil)

// APIKeyRepository implements api.KeyStore backed by PostgreSQL. Only key
// hashes are stored; the raw key never touches the database.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash returns the principal bound to the key hash, or api.ErrKeyNotFound.
func (r *APIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*api.Principal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tenant_id, user_id, role, key_hash FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		return nil, errors.Wrap(err, "query api key")
	}
	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (api.Principal, error) {
		var p api.Principal
		err := row.Scan(&p.TenantID, &p.UserID, &p.Role, &p.KeyHash)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, api.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "scan api key")
	}
	return &p, nil
}
