package api

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/openmart/storefront-core/internal/domain/coupon"
	"github.com/openmart/storefront-core/internal/domain/delivery"
	"github.com/openmart/storefront-core/internal/domain/order"
	"github.com/openmart/storefront-core/internal/domain/referral"
)

// writeJSON writes the encoder's buffer as an application/json response.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes a {"code": ..., "message": ...} error body.
func writeError(w http.ResponseWriter, status int, message string) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, e)
}

// writeDomainError maps a domain error onto an HTTP status. Cross-tenant
// access deliberately collapses into plain not-found so callers cannot probe
// other shops' id spaces.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr *order.InvalidQuantityError
		pnErr *order.ProductNotFoundError
		itErr *order.InvalidTransitionError
	)
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrCrossTenant),
		errors.Is(err, referral.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnErr):
		writeError(w, http.StatusUnprocessableEntity, pnErr.Error())
	case errors.As(err, &itErr):
		writeError(w, http.StatusConflict, itErr.Error())
	case errors.Is(err, order.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "order modified concurrently, retry")
	case coupon.IsInvalid(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, referral.ErrInvalidCode):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, referral.ErrAlreadyReferred):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zctx.From(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// pathID parses the named path segment as a positive int64.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid %s", name)
	}
	return id, nil
}
