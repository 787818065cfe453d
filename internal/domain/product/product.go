// Package product defines the catalog collaborator the order core consumes.
// The catalog itself (pricing screens, availability management) lives outside
// the core; orders only need tenant-scoped price snapshots at checkout time.
package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist within the
// tenant's catalog.
var ErrNotFound = errors.New("product not found")

// Product is a purchasable catalog item.
type Product struct {
	ID        int64
	TenantID  int64
	Name      string
	Price     decimal.Decimal
	Available bool
}

// Catalog provides tenant-scoped product lookups. Implementations must never
// return products belonging to another tenant.
type Catalog interface {
	GetByIDs(ctx context.Context, tenantID int64, ids []int64) ([]Product, error)
}
