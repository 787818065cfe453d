// Package order implements the order aggregate and its status machine: the
// only subsystem where a bug costs money or trust. Orders are created
// atomically with their line items, initial history row and optional coupon
// redemption, then move through canonical states with an append-only audit
// trail. Reaching delivered feeds the loyalty and referral ledgers.
package order

import (
	"context"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openmart/storefront-core/internal/domain/coupon"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems = errors.New("items required")
	// ErrNotFound covers both truly absent orders and orders outside the
	// actor's tenant; callers must not be able to tell the difference.
	ErrNotFound = errors.New("order not found")
	// ErrCrossTenant is an internal signal that a resource belongs to another
	// tenant. The HTTP layer surfaces it as not-found.
	ErrCrossTenant = errors.New("resource belongs to another tenant")
	// ErrConcurrentModification is returned when a transition lost a race
	// against another writer. Safe for the caller to retry.
	ErrConcurrentModification = errors.New("order modified concurrently")
)

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// ProductNotFoundError indicates a requested product is absent from the
// tenant's catalog.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InvalidTransitionError indicates a status change the state machine forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

// Order is a customer purchase within one tenant. TenantID is immutable after
// creation, and the monetary fields are computed once at checkout and never
// recomputed. Orders are never hard-deleted.
type Order struct {
	ID         int64
	TenantID   int64
	CustomerID int64
	// TrackingToken is the URL-safe capability for unauthenticated lookup,
	// distinct from the numeric primary key.
	TrackingToken string
	Status        Status
	Items         []Item
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	CouponID      *int64
	CouponCode    string

	DeliveryAddress     string
	DeliveryPersonID    *int64
	EstimatedDeliveryAt *time.Time

	PaymentMethod string
	PaymentStatus string
	// PaymentReference is an opaque pointer to a stored receipt; the core
	// never interprets it.
	PaymentReference string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one order line. Immutable once created: UnitPrice is snapshotted
// from the catalog at purchase time so later price changes never alter
// historical orders.
type Item struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns quantity × unit price for the line.
func (it Item) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// HistoryEntry is one row of the append-only status audit trail. The newest
// entry's status always equals the order's current status.
type HistoryEntry struct {
	ID        int64
	OrderID   int64
	Status    Status
	Note      string
	ActorID   int64
	CreatedAt time.Time
}

// Repository persists orders. Implementations must execute each multi-record
// mutation in a single database transaction and must scope every query by
// tenant id, except the tracking-token lookup where the token itself is the
// capability.
type Repository interface {
	// Create persists the order, its items, the initial pending history row
	// and, when use is non-nil, the coupon redemption plus the guarded
	// used_count increment, all or nothing.
	Create(ctx context.Context, o *Order, use *coupon.Use) error
	Get(ctx context.Context, tenantID, id int64) (*Order, error)
	GetByTrackingToken(ctx context.Context, token string) (*Order, error)
	ListForCustomer(ctx context.Context, tenantID, customerID int64) ([]Order, error)
	ListForTenant(ctx context.Context, tenantID int64) ([]Order, error)
	History(ctx context.Context, tenantID, orderID int64) ([]HistoryEntry, error)
	// Transition moves the order to target under a row lock, appends the
	// history row, and returns the updated order plus the previous status.
	// Returns InvalidTransitionError when the state machine forbids the move.
	Transition(ctx context.Context, tenantID, orderID int64, target Status, note string, actorID int64) (o *Order, prev Status, err error)
	// AssignDelivery binds the delivery person and ETA to the order and moves
	// it to out_for_delivery as one combined transaction. Returns
	// ErrCrossTenant when order or delivery person belong to another tenant.
	AssignDelivery(ctx context.Context, tenantID, orderID, personID int64, eta time.Time, actorID int64) (*Order, error)
	// CountDelivered returns how many delivered orders the customer has in
	// the tenant.
	CountDelivered(ctx context.Context, tenantID, customerID int64) (int, error)
}

var trackingEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTrackingToken generates a globally unique, URL-safe, human-shareable
// token backed by a random UUID.
func NewTrackingToken() string {
	id := uuid.New()
	return "TRK" + trackingEncoding.EncodeToString(id[:])
}
