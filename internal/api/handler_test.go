package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/delivery"
	"github.com/openmart/storefront-core/internal/domain/loyalty"
	"github.com/openmart/storefront-core/internal/domain/order"
	"github.com/openmart/storefront-core/internal/domain/product"
	"github.com/openmart/storefront-core/internal/domain/referral"
)

const (
	testPepper      = "test-pepper"
	staffKey        = "staff-key"
	customerKey     = "customer-key"
	otherTenantKey  = "other-tenant-key"
	staffUserID     = int64(1)
	customerUserID  = int64(100)
	tenantOne       = int64(1)
	tenantTwo       = int64(2)
	otherTenantUser = int64(200)
)

type fakeKeys struct {
	byHash map[string]*Principal
}

func (f *fakeKeys) FindByHash(_ context.Context, hash string) (*Principal, error) {
	p, ok := f.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return p, nil
}

type memCatalog struct {
	products []product.Product
}

func (m *memCatalog) GetByIDs(_ context.Context, tenantID int64, ids []int64) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.products {
		if p.TenantID != tenantID {
			continue
		}
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type memOrders struct {
	nextID  int64
	orders  map[int64]*order.Order
	history map[int64][]order.HistoryEntry
}

func newMemOrders() *memOrders {
	return &memOrders{
		nextID:  1,
		orders:  make(map[int64]*order.Order),
		history: make(map[int64][]order.HistoryEntry),
	}
}

func (m *memOrders) Create(_ context.Context, o *order.Order, _ *coupon.Use) error {
	o.ID = m.nextID
	m.nextID++
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = o
	m.history[o.ID] = append(m.history[o.ID], order.HistoryEntry{
		OrderID: o.ID, Status: o.Status, ActorID: o.CustomerID, CreatedAt: o.CreatedAt,
	})
	return nil
}

func (m *memOrders) Get(_ context.Context, tenantID, id int64) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) GetByTrackingToken(_ context.Context, token string) (*order.Order, error) {
	for _, o := range m.orders {
		if o.TrackingToken == token {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrders) ListForCustomer(_ context.Context, tenantID, customerID int64) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.TenantID == tenantID && o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) ListForTenant(_ context.Context, tenantID int64) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.orders {
		if o.TenantID == tenantID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) History(_ context.Context, tenantID, orderID int64) ([]order.HistoryEntry, error) {
	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, order.ErrNotFound
	}
	return m.history[orderID], nil
}

func (m *memOrders) Transition(_ context.Context, tenantID, orderID int64, target order.Status, note string, actorID int64) (*order.Order, order.Status, error) {
	o, ok := m.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, "", order.ErrNotFound
	}
	prev := o.Status
	if !prev.CanTransitionTo(target) {
		return nil, "", &order.InvalidTransitionError{From: prev, To: target}
	}
	o.Status = target
	o.UpdatedAt = time.Now()
	m.history[orderID] = append(m.history[orderID], order.HistoryEntry{
		OrderID: orderID, Status: target, Note: note, ActorID: actorID, CreatedAt: o.UpdatedAt,
	})
	return o, prev, nil
}

func (m *memOrders) AssignDelivery(ctx context.Context, tenantID, orderID, personID int64, eta time.Time, actorID int64) (*order.Order, error) {
	o, _, err := m.Transition(ctx, tenantID, orderID, order.StatusOutForDelivery, "delivery assigned", actorID)
	if err != nil {
		return nil, err
	}
	o.DeliveryPersonID = &personID
	o.EstimatedDeliveryAt = &eta
	return o, nil
}

func (m *memOrders) CountDelivered(_ context.Context, tenantID, customerID int64) (int, error) {
	n := 0
	for _, o := range m.orders {
		if o.TenantID == tenantID && o.CustomerID == customerID && o.Status == order.StatusDelivered {
			n++
		}
	}
	return n, nil
}

type memCouponRepo struct {
	coupons []coupon.Coupon
}

func (m *memCouponRepo) FindByCode(_ context.Context, tenantID int64, code string) (*coupon.Coupon, error) {
	for i := range m.coupons {
		c := &m.coupons[i]
		if c.TenantID == tenantID && strings.EqualFold(c.Code, code) {
			return c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (m *memCouponRepo) CountUsesByUser(context.Context, int64, int64) (int, error) {
	return 0, nil
}

type memLedger struct {
	seen map[string]bool
}

func (m *memLedger) Append(_ context.Context, txn loyalty.Transaction) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[txn.IdempotencyKey] {
		return false, nil
	}
	m.seen[txn.IdempotencyKey] = true
	return true, nil
}

func (m *memLedger) GetBalance(_ context.Context, tenantID, userID int64) (*loyalty.Points, error) {
	return &loyalty.Points{UserID: userID, TenantID: tenantID, Balance: 42, LifetimeEarned: 50, LifetimeSpent: 8}, nil
}

func (m *memLedger) ListTransactions(context.Context, int64, int64) ([]loyalty.Transaction, error) {
	return nil, nil
}

type memReferralRepo struct {
	nextID   int64
	referred map[int64]*referral.Referral
}

func (m *memReferralRepo) Create(_ context.Context, r *referral.Referral) error {
	if m.referred == nil {
		m.referred = make(map[int64]*referral.Referral)
	}
	if _, ok := m.referred[r.ReferredID]; ok {
		return referral.ErrAlreadyReferred
	}
	m.nextID++
	r.ID = m.nextID
	m.referred[r.ReferredID] = r
	return nil
}

func (m *memReferralRepo) GetByID(_ context.Context, tenantID, id int64) (*referral.Referral, error) {
	for _, r := range m.referred {
		if r.ID == id && r.TenantID == tenantID {
			return r, nil
		}
	}
	return nil, referral.ErrNotFound
}

func (m *memReferralRepo) FindPendingByReferred(_ context.Context, tenantID, referredID int64) (*referral.Referral, error) {
	r, ok := m.referred[referredID]
	if !ok || r.TenantID != tenantID || r.Status != referral.StatusPending {
		return nil, referral.ErrNotFound
	}
	return r, nil
}

func (m *memReferralRepo) MarkRewarded(_ context.Context, id int64, at time.Time) (bool, error) {
	for _, r := range m.referred {
		if r.ID == id && r.Status == referral.StatusPending {
			r.Status = referral.StatusRewarded
			r.CompletedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *memReferralRepo) ListByReferrer(_ context.Context, tenantID, referrerID int64) ([]referral.Referral, error) {
	var out []referral.Referral
	for _, r := range m.referred {
		if r.TenantID == tenantID && r.ReferrerID == referrerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memDelivery struct {
	people []delivery.Person
}

func (m *memDelivery) GetByID(_ context.Context, tenantID, id int64) (*delivery.Person, error) {
	for i := range m.people {
		if m.people[i].ID == id && m.people[i].TenantID == tenantID {
			return &m.people[i], nil
		}
	}
	return nil, delivery.ErrNotFound
}

func (m *memDelivery) ListByTenant(_ context.Context, tenantID int64) ([]delivery.Person, error) {
	var out []delivery.Person
	for _, p := range m.people {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memDelivery) SetStatus(context.Context, int64, int64, delivery.Status) error {
	return nil
}

type testEnv struct {
	server *httptest.Server
	orders *memOrders
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog := &memCatalog{products: []product.Product{
		{ID: 1, TenantID: tenantOne, Name: "Pizza", Price: decimal.NewFromInt(100), Available: true},
		{ID: 2, TenantID: tenantOne, Name: "Salad", Price: decimal.NewFromInt(50), Available: true},
	}}
	couponRepo := &memCouponRepo{coupons: []coupon.Coupon{
		{ID: 7, TenantID: tenantOne, Code: "TENOFF", DiscountType: coupon.DiscountPercentage,
			Value: decimal.NewFromInt(10), Active: true},
	}}

	orders := newMemOrders()
	ledger := loyalty.NewService(&memLedger{})
	referrals := referral.NewService(&memReferralRepo{}, ledger, referral.Rewards{ReferrerPoints: 100, ReferredPoints: 50})
	checker := coupon.NewChecker(couponRepo)
	orderSvc := order.NewService(catalog, checker, orders, ledger, referrals, order.Config{EarnRate: 1})

	staff := &memDelivery{people: []delivery.Person{
		{ID: 1, TenantID: tenantOne, Name: "Alex", Status: delivery.StatusAvailable},
	}}

	sec := NewSecurity(nil, []byte(testPepper))
	keys := &fakeKeys{byHash: map[string]*Principal{
		sec.HashKey(staffKey):       {TenantID: tenantOne, UserID: staffUserID, Role: RoleStaff, KeyHash: sec.HashKey(staffKey)},
		sec.HashKey(customerKey):    {TenantID: tenantOne, UserID: customerUserID, Role: RoleCustomer, KeyHash: sec.HashKey(customerKey)},
		sec.HashKey(otherTenantKey): {TenantID: tenantTwo, UserID: otherTenantUser, Role: RoleStaff, KeyHash: sec.HashKey(otherTenantKey)},
	}}
	sec = NewSecurity(keys, []byte(testPepper))

	h := NewHandler(orderSvc, checker, ledger, referrals, staff, nil)
	mux := http.NewServeMux()
	h.Routes(mux, sec)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, orders: orders}
}

func (e *testEnv) do(t *testing.T, method, path, apiKey, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]jx.Raw {
	t.Helper()
	fields := make(map[string]jx.Raw)
	d := jx.Decode(resp.Body, 4096)
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		fields[key] = raw
		return err
	}))
	return fields
}

func strField(t *testing.T, fields map[string]jx.Raw, key string) string {
	t.Helper()
	v, err := jx.DecodeBytes(fields[key]).Str()
	require.NoError(t, err, key)
	return v
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/orders", "wrong-key", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":2},{"product_id":2,"quantity":1}],
		"delivery_address":"12 Main St","payment_method":"card"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	fields := decodeBody(t, resp)
	assert.Equal(t, "pending", strField(t, fields, "status"))
	assert.Equal(t, "250.00", strField(t, fields, "total"))
	assert.Regexp(t, `^TRK[A-Z2-7]{26}$`, strField(t, fields, "tracking_token"))
}

func TestCreateOrderWithCoupon(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":1}],"delivery_address":"x","coupon_code":"TENOFF"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	fields := decodeBody(t, resp)
	assert.Equal(t, "10.00", strField(t, fields, "discount"))
	assert.Equal(t, "90.00", strField(t, fields, "total"))
}

func TestCreateOrderUnknownCoupon(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":1}],"coupon_code":"NOPE"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateOrderEmptyItems(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey, `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrderCrossTenantIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Staff of another tenant sees 404, indistinguishable from a bad id.
	resp = env.do(t, http.MethodGet, "/api/orders/1", otherTenantKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/orders/1", staffKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Customers may not drive the status machine.
	resp = env.do(t, http.MethodPost, "/api/orders/1/status", customerKey, `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Alias vocabulary is accepted.
	resp = env.do(t, http.MethodPost, "/api/orders/1/status", staffKey, `{"status":"accepted"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fields := decodeBody(t, resp)
	assert.Equal(t, "confirmed", strField(t, fields, "status"))

	// Skipping ahead is a conflict.
	resp = env.do(t, http.MethodPost, "/api/orders/1/status", staffKey, `{"status":"delivered"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown status is rejected at the boundary.
	resp = env.do(t, http.MethodPost, "/api/orders/1/status", staffKey, `{"status":"refunded"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestTrackOrderPublic(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token := strField(t, decodeBody(t, resp), "tracking_token")

	// No API key needed.
	resp = env.do(t, http.MethodGet, "/api/track/"+token, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fields := decodeBody(t, resp)
	assert.Equal(t, "pending", strField(t, fields, "status"))
	_, hasToken := fields["tracking_token"]
	assert.False(t, hasToken, "tracking view must not echo internals")

	resp = env.do(t, http.MethodGet, "/api/track/TRKDOESNOTEXISTAAAAAAAAAAAAAA", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidateCoupon(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/coupons/validate", customerKey,
		`{"code":"TENOFF","amount":"200"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fields := decodeBody(t, resp)
	assert.Equal(t, "20.00", strField(t, fields, "discount"))
	assert.Equal(t, "180.00", strField(t, fields, "total"))

	resp = env.do(t, http.MethodPost, "/api/coupons/validate", customerKey,
		`{"code":"NOPE","amount":100}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestReferralRedeemAndSummary(t *testing.T) {
	env := newTestEnv(t)

	code := referral.MakeCode(staffUserID)

	// Self-referral is rejected.
	resp := env.do(t, http.MethodPost, "/api/referrals/redeem", staffKey, `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/referrals/redeem", customerKey, `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Second redemption conflicts.
	resp = env.do(t, http.MethodPost, "/api/referrals/redeem", customerKey, `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/referrals/summary", staffKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fields := decodeBody(t, resp)
	assert.Equal(t, code, strField(t, fields, "code"))
}

func TestAssignDelivery(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/orders", customerKey,
		`{"items":[{"product_id":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, s := range []string{"confirmed", "preparing"} {
		resp = env.do(t, http.MethodPost, "/api/orders/1/status", staffKey, `{"status":"`+s+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	eta := time.Now().Add(45 * time.Minute).UTC().Format(time.RFC3339)
	resp = env.do(t, http.MethodPost, "/api/orders/1/delivery", staffKey,
		`{"delivery_person_id":1,"estimated_delivery_at":"`+eta+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fields := decodeBody(t, resp)
	assert.Equal(t, "out_for_delivery", strField(t, fields, "status"))
}

func TestLoyaltyBalance(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/loyalty/balance", customerKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fields := decodeBody(t, resp)
	balance, err := jx.DecodeBytes(fields["balance"]).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}
