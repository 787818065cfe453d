package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// validateCoupon previews a coupon against a purchase amount without
// consuming it. Redemption accounting only happens at checkout.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var (
		code      string
		rawAmount string
	)
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			code = v
			return err
		case "amount":
			// Accept both "123.45" and 123.45.
			raw, err := d.Raw()
			rawAmount = strings.Trim(string(raw), `"`)
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "code required")
		return
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	c, discount, err := h.coupons.Check(r.Context(), p.TenantID, code, p.UserID, amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(true)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discount_type")
	e.Str(string(c.DiscountType))
	e.FieldStart("discount")
	e.Str(discount.StringFixed(2))
	e.FieldStart("total")
	e.Str(amount.Sub(discount).StringFixed(2))
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}
