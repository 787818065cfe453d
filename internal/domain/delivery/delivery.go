// Package delivery holds the delivery staff entity. Assignment itself is an
// order-side operation; this package only defines who can be assigned.
package delivery

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a delivery person does not exist within the tenant.
var ErrNotFound = errors.New("delivery person not found")

// Status enumerates delivery staff availability.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// Person is a tenant-scoped delivery agent.
type Person struct {
	ID       int64
	TenantID int64
	Name     string
	Phone    string
	Status   Status
}

// Repository provides tenant-scoped delivery staff lookups.
type Repository interface {
	// GetByID returns the delivery person, or ErrNotFound when the id does
	// not exist within the tenant.
	GetByID(ctx context.Context, tenantID, id int64) (*Person, error)
	// ListByTenant returns all delivery staff for the tenant.
	ListByTenant(ctx context.Context, tenantID int64) ([]Person, error)
	// SetStatus updates availability for the delivery person within the tenant.
	SetStatus(ctx context.Context, tenantID, id int64, status Status) error
}
