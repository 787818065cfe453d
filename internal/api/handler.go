// Package api exposes the order core over HTTP. Handlers translate between
// JSON and domain types, enforce tenant scoping via the authenticated
// principal, and map domain errors onto HTTP statuses. All business rules
// live in the domain services.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/delivery"
	"github.com/openmart/storefront-core/internal/domain/loyalty"
	"github.com/openmart/storefront-core/internal/domain/order"
	"github.com/openmart/storefront-core/internal/domain/referral"
)

// CouponChecker previews a coupon for a candidate purchase without consuming
// it. Satisfied by *coupon.Checker.
type CouponChecker interface {
	Check(ctx context.Context, tenantID int64, code string, userID int64, purchase decimal.Decimal) (*coupon.Coupon, decimal.Decimal, error)
}

// TrackingCache caches rendered public tracking responses keyed by token.
// A nil cache disables caching.
type TrackingCache interface {
	Get(ctx context.Context, token string) ([]byte, bool)
	Set(ctx context.Context, token string, body []byte, ttl time.Duration)
}

// Handler holds the domain services the HTTP endpoints delegate to.
type Handler struct {
	orders    *order.Service
	coupons   CouponChecker
	loyalty   *loyalty.Service
	referrals *referral.Service
	staff     delivery.Repository

	trackCache TrackingCache
}

// NewHandler constructs a Handler with the required domain dependencies.
// trackCache may be nil.
func NewHandler(
	orders *order.Service,
	coupons CouponChecker,
	loyaltySvc *loyalty.Service,
	referrals *referral.Service,
	staff delivery.Repository,
	trackCache TrackingCache,
) *Handler {
	return &Handler{
		orders:     orders,
		coupons:    coupons,
		loyalty:    loyaltySvc,
		referrals:  referrals,
		staff:      staff,
		trackCache: trackCache,
	}
}

// Routes registers all endpoints on mux. Authenticated routes are wrapped
// with sec; the tracking endpoint stays public, the token is the capability.
func (h *Handler) Routes(mux *http.ServeMux, sec *Security) {
	auth := func(fn http.HandlerFunc) http.Handler {
		return sec.Authenticate(fn)
	}

	mux.HandleFunc("GET /api/track/{token}", h.trackOrder)

	mux.Handle("POST /api/orders", auth(h.createOrder))
	mux.Handle("GET /api/orders", auth(h.listOrders))
	mux.Handle("GET /api/orders/{id}", auth(h.getOrder))
	mux.Handle("GET /api/orders/{id}/history", auth(h.orderHistory))
	mux.Handle("POST /api/orders/{id}/status", auth(h.updateStatus))
	mux.Handle("POST /api/orders/{id}/delivery", auth(h.assignDelivery))

	mux.Handle("POST /api/coupons/validate", auth(h.validateCoupon))

	mux.Handle("GET /api/loyalty/balance", auth(h.loyaltyBalance))
	mux.Handle("GET /api/loyalty/history", auth(h.loyaltyHistory))

	mux.Handle("POST /api/referrals/redeem", auth(h.redeemReferral))
	mux.Handle("GET /api/referrals/summary", auth(h.referralSummary))

	mux.Handle("GET /api/delivery-people", auth(h.listDeliveryPeople))
}
