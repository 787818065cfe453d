package api

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
)

func (h *Handler) loyaltyBalance(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	pts, err := h.loyalty.GetBalance(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("balance")
	e.Int64(pts.Balance)
	e.FieldStart("lifetime_earned")
	e.Int64(pts.LifetimeEarned)
	e.FieldStart("lifetime_spent")
	e.Int64(pts.LifetimeSpent)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) loyaltyHistory(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	txns, err := h.loyalty.History(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("transactions")
	e.ArrStart()
	for _, t := range txns {
		e.ObjStart()
		e.FieldStart("points")
		e.Int64(t.Points)
		e.FieldStart("type")
		e.Str(string(t.Type))
		if t.Description != "" {
			e.FieldStart("description")
			e.Str(t.Description)
		}
		if t.OrderID != nil {
			e.FieldStart("order_id")
			e.Int64(*t.OrderID)
		}
		e.FieldStart("created_at")
		e.Str(t.CreatedAt.Format(time.RFC3339))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e)
}
