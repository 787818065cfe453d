package api

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
)

func (h *Handler) redeemReferral(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var code string
	if err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key == "code" {
			v, err := d.Str()
			code = v
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}

	ref, err := h.referrals.RedeemCode(r.Context(), p.TenantID, code, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(ref.Status))
	e.FieldStart("referrer_points")
	e.Int64(ref.ReferrerPoints)
	e.FieldStart("referred_points")
	e.Int64(ref.ReferredPoints)
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) referralSummary(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	sum, err := h.referrals.SummaryFor(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Str(sum.Code)
	e.FieldStart("total")
	e.Int(sum.Total)
	e.FieldStart("pending")
	e.Int(sum.Pending)
	e.FieldStart("rewarded")
	e.Int(sum.Rewarded)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}
