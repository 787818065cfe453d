package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/loyalty"
	"github.com/openmart/storefront-core/internal/domain/product"
)

var tracer = otel.Tracer("storefront.order")

// CouponChecker validates a coupon code for a candidate purchase. Satisfied
// by *coupon.Checker.
type CouponChecker interface {
	Check(ctx context.Context, tenantID int64, code string, userID int64, purchase decimal.Decimal) (*coupon.Coupon, decimal.Decimal, error)
}

// PointsLedger credits and debits loyalty points. Satisfied by *loyalty.Service.
type PointsLedger interface {
	AddPoints(ctx context.Context, p loyalty.AddPointsParams) (bool, error)
}

// ReferralCompleter settles a referred user's pending referral, if one
// exists. Satisfied by *referral.Service.
type ReferralCompleter interface {
	CompleteForReferred(ctx context.Context, tenantID, referredID int64) error
}

// Config holds the business parameters the state machine itself does not
// define: how many points an order earns. EarnRate is points per whole
// currency unit of the order total; zero disables loyalty accrual.
type Config struct {
	EarnRate int64
}

// Service orchestrates order creation, status transitions and their ledger
// side effects.
type Service struct {
	catalog   product.Catalog
	coupons   CouponChecker
	orders    Repository
	ledger    PointsLedger
	referrals ReferralCompleter
	cfg       Config
}

// NewService creates an order Service with the required collaborators.
func NewService(
	catalog product.Catalog,
	coupons CouponChecker,
	orders Repository,
	ledger PointsLedger,
	referrals ReferralCompleter,
	cfg Config,
) *Service {
	return &Service{
		catalog:   catalog,
		coupons:   coupons,
		orders:    orders,
		ledger:    ledger,
		referrals: referrals,
		cfg:       cfg,
	}
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID int64
	Quantity  int
}

// CreateRequest holds the checkout input.
type CreateRequest struct {
	TenantID         int64
	CustomerID       int64
	Items            []ItemInput
	DeliveryAddress  string
	PaymentMethod    string
	PaymentReference string
	CouponCode       string
}

// Create places an order: validates the items, snapshots catalog prices,
// applies an optional coupon, and persists order, items, initial history row
// and coupon redemption as one atomic unit. The total is computed exactly
// once, here.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Create",
		trace.WithAttributes(
			attribute.Int64("tenant.id", req.TenantID),
			attribute.Int("items.count", len(req.Items)),
		))
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]int64, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.catalog.GetByIDs(ctx, req.TenantID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, len(req.Items))
	subtotal := decimal.Zero
	for i, in := range req.Items {
		p, ok := byID[in.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: in.ProductID}
		}
		items[i] = Item{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: p.Price,
		}
		subtotal = subtotal.Add(items[i].Subtotal())
	}
	subtotal = subtotal.Round(2)

	// Validate the coupon against the full subtotal before computing the
	// total. The redemption row is created atomically with the order below.
	var use *coupon.Use
	discount := decimal.Zero
	couponCode := ""
	var couponID *int64
	if req.CouponCode != "" {
		c, d, err := s.coupons.Check(ctx, req.TenantID, req.CouponCode, req.CustomerID, subtotal)
		if err != nil {
			return nil, err
		}
		discount = d
		couponCode = c.Code
		couponID = &c.ID
		use = &coupon.Use{CouponID: c.ID, UserID: req.CustomerID}
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	total = total.Round(2)

	o := &Order{
		TenantID:         req.TenantID,
		CustomerID:       req.CustomerID,
		TrackingToken:    NewTrackingToken(),
		Status:           StatusPending,
		Items:            items,
		Subtotal:         subtotal,
		Discount:         discount,
		Total:            total,
		CouponID:         couponID,
		CouponCode:       couponCode,
		DeliveryAddress:  req.DeliveryAddress,
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    "unpaid",
		PaymentReference: req.PaymentReference,
	}
	if err := s.orders.Create(ctx, o, use); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Transition moves the order to target and appends the audit row. When the
// order reaches delivered for the first time, the customer is credited
// loyalty points and their pending referral (if any) is settled. Both side
// effects are guarded by the previous status and by idempotency keys, so a
// repeated delivered transition request can never credit twice.
func (s *Service) Transition(ctx context.Context, tenantID, orderID int64, target Status, note string, actorID int64) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Transition",
		trace.WithAttributes(
			attribute.Int64("order.id", orderID),
			attribute.String("status.target", string(target)),
		))
	defer span.End()

	o, prev, err := s.orders.Transition(ctx, tenantID, orderID, target, note, actorID)
	if err != nil {
		return nil, err
	}

	if target == StatusDelivered && prev != StatusDelivered {
		if err := s.onDelivered(ctx, o); err != nil {
			return nil, errors.Wrap(err, "delivered side effects")
		}
	}
	return o, nil
}

// AssignDelivery binds a delivery person and ETA to the order and dispatches
// it in one combined operation.
func (s *Service) AssignDelivery(ctx context.Context, tenantID, orderID, personID int64, eta time.Time, actorID int64) (*Order, error) {
	return s.orders.AssignDelivery(ctx, tenantID, orderID, personID, eta, actorID)
}

// onDelivered credits the order's customer and settles their referral on
// their first delivered order.
func (s *Service) onDelivered(ctx context.Context, o *Order) error {
	if s.cfg.EarnRate > 0 {
		points := o.Total.Floor().IntPart() * s.cfg.EarnRate
		if points > 0 {
			_, err := s.ledger.AddPoints(ctx, loyalty.AddPointsParams{
				TenantID:       o.TenantID,
				UserID:         o.CustomerID,
				Delta:          points,
				Type:           loyalty.TypeEarned,
				Description:    fmt.Sprintf("order %d delivered", o.ID),
				OrderID:        &o.ID,
				IdempotencyKey: fmt.Sprintf("order:%d:earned", o.ID),
			})
			if err != nil {
				return errors.Wrap(err, "credit loyalty points")
			}
		}
	}

	delivered, err := s.orders.CountDelivered(ctx, o.TenantID, o.CustomerID)
	if err != nil {
		return errors.Wrap(err, "count delivered orders")
	}
	if delivered == 1 {
		if err := s.referrals.CompleteForReferred(ctx, o.TenantID, o.CustomerID); err != nil {
			return errors.Wrap(err, "complete referral")
		}
	}
	return nil
}

// Get returns the order within the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (*Order, error) {
	return s.orders.Get(ctx, tenantID, id)
}

// GetByTrackingToken returns the order for a public tracking token. No tenant
// scoping: the unguessable token is the capability.
func (s *Service) GetByTrackingToken(ctx context.Context, token string) (*Order, error) {
	return s.orders.GetByTrackingToken(ctx, token)
}

// ListForCustomer returns the customer's orders within the tenant.
func (s *Service) ListForCustomer(ctx context.Context, tenantID, customerID int64) ([]Order, error) {
	return s.orders.ListForCustomer(ctx, tenantID, customerID)
}

// ListForShop returns all orders of the tenant.
func (s *Service) ListForShop(ctx context.Context, tenantID int64) ([]Order, error) {
	return s.orders.ListForTenant(ctx, tenantID)
}

// History returns the order's status audit trail, oldest first.
func (s *Service) History(ctx context.Context, tenantID, orderID int64) ([]HistoryEntry, error) {
	return s.orders.History(ctx, tenantID, orderID)
}
