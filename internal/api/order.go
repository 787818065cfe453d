package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"

	"github.com/openmart/storefront-core/internal/domain/order"
)

const trackingCacheTTL = 30 * time.Second

type createOrderRequest struct {
	Items            []order.ItemInput
	DeliveryAddress  string
	PaymentMethod    string
	PaymentReference string
	CouponCode       string
}

func decodeCreateOrder(data []byte) (createOrderRequest, error) {
	var req createOrderRequest
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var it order.ItemInput
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "product_id":
						it.ProductID, err = d.Int64()
					case "quantity":
						it.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "delivery_address":
			v, err := d.Str()
			req.DeliveryAddress = v
			return err
		case "payment_method":
			v, err := d.Str()
			req.PaymentMethod = v
			return err
		case "payment_reference":
			v, err := d.Str()
			req.PaymentReference = v
			return err
		case "coupon_code":
			v, err := d.Str()
			req.CouponCode = v
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	req, err := decodeCreateOrder(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		TenantID:         p.TenantID,
		CustomerID:       p.UserID,
		Items:            req.Items,
		DeliveryAddress:  req.DeliveryAddress,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	encodeOrder(e, o)
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.Get(r.Context(), p.TenantID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	// A customer asking for someone else's order learns nothing beyond
	// not-found, same as a wrong id.
	if !p.IsStaff() && o.CustomerID != p.UserID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	e := &jx.Encoder{}
	encodeOrder(e, o)
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var (
		list []order.Order
		err  error
	)
	if p.IsStaff() {
		list, err = h.orders.ListForShop(r.Context(), p.TenantID)
	} else {
		list, err = h.orders.ListForCustomer(r.Context(), p.TenantID, p.UserID)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range list {
		encodeOrder(e, &list[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !p.IsStaff() {
		o, err := h.orders.Get(r.Context(), p.TenantID, id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if o.CustomerID != p.UserID {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
	}

	entries, err := h.orders.History(r.Context(), p.TenantID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("history")
	e.ArrStart()
	for _, entry := range entries {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(string(entry.Status))
		if entry.Note != "" {
			e.FieldStart("note")
			e.Str(entry.Note)
		}
		e.FieldStart("actor_id")
		e.Int64(entry.ActorID)
		e.FieldStart("created_at")
		e.Str(entry.CreatedAt.Format(time.RFC3339))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsStaff() {
		writeError(w, http.StatusForbidden, "staff only")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var rawStatus, note string
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			rawStatus, err = d.Str()
		case "note":
			note, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}

	// External vocabularies are normalized here, at the boundary. The state
	// machine only ever sees canonical statuses.
	target, err := order.ParseStatus(rawStatus)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	o, err := h.orders.Transition(r.Context(), p.TenantID, id, target, note, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	encodeOrder(e, o)
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) assignDelivery(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsStaff() {
		writeError(w, http.StatusForbidden, "staff only")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var (
		personID int64
		rawETA   string
	)
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "delivery_person_id":
			personID, err = d.Int64()
		case "estimated_delivery_at":
			rawETA, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	if personID <= 0 {
		writeError(w, http.StatusBadRequest, "delivery_person_id required")
		return
	}
	eta, err := time.Parse(time.RFC3339, rawETA)
	if err != nil {
		writeError(w, http.StatusBadRequest, "estimated_delivery_at must be RFC 3339")
		return
	}

	o, err := h.orders.AssignDelivery(r.Context(), p.TenantID, id, personID, eta, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	encodeOrder(e, o)
	writeJSON(w, http.StatusOK, e)
}

// trackOrder is the unauthenticated tracking endpoint. It exposes only what a
// recipient needs: current status and the delivery estimate. Responses are
// briefly cached since tracking pages poll.
func (h *Handler) trackOrder(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if h.trackCache != nil {
		if body, ok := h.trackCache.Get(r.Context(), token); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
			return
		}
	}

	o, err := h.orders.GetByTrackingToken(r.Context(), token)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(o.Status))
	if o.EstimatedDeliveryAt != nil {
		e.FieldStart("estimated_delivery_at")
		e.Str(o.EstimatedDeliveryAt.Format(time.RFC3339))
	}
	e.FieldStart("updated_at")
	e.Str(o.UpdatedAt.Format(time.RFC3339))
	e.ObjEnd()

	if h.trackCache != nil {
		h.trackCache.Set(r.Context(), token, e.Bytes(), trackingCacheTTL)
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) listDeliveryPeople(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsStaff() {
		writeError(w, http.StatusForbidden, "staff only")
		return
	}

	people, err := h.staff.ListByTenant(r.Context(), p.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("delivery_people")
	e.ArrStart()
	for _, person := range people {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(person.ID)
		e.FieldStart("name")
		e.Str(person.Name)
		e.FieldStart("status")
		e.Str(string(person.Status))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("tracking_token")
	e.Str(o.TrackingToken)
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.Str(it.UnitPrice.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("subtotal")
	e.Str(o.Subtotal.StringFixed(2))
	e.FieldStart("discount")
	e.Str(o.Discount.StringFixed(2))
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}

	e.FieldStart("delivery_address")
	e.Str(o.DeliveryAddress)
	if o.DeliveryPersonID != nil {
		e.FieldStart("delivery_person_id")
		e.Int64(*o.DeliveryPersonID)
	}
	if o.EstimatedDeliveryAt != nil {
		e.FieldStart("estimated_delivery_at")
		e.Str(o.EstimatedDeliveryAt.Format(time.RFC3339))
	}

	e.FieldStart("payment_method")
	e.Str(o.PaymentMethod)
	e.FieldStart("payment_status")
	e.Str(o.PaymentStatus)

	e.FieldStart("created_at")
	e.Str(o.CreatedAt.Format(time.RFC3339))
	e.FieldStart("updated_at")
	e.Str(o.UpdatedAt.Format(time.RFC3339))
	e.ObjEnd()
}
