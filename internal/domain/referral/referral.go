// Package referral tracks who brought whom to a shop and the reward state of
// each relationship. A user can be referred at most once, and referrer
// rewards are paid exactly once per referral through the loyalty ledger.
package referral

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Status enumerates referral reward states.
type Status string

const (
	// StatusPending means the referred user has joined but not yet completed
	// a qualifying order.
	StatusPending Status = "pending"
	// StatusCompleted means the qualifying order happened but rewards are
	// still outstanding.
	StatusCompleted Status = "completed"
	// StatusRewarded means both sides have been credited.
	StatusRewarded Status = "rewarded"
)

var (
	// ErrInvalidCode is returned for unparseable or self-referential codes.
	ErrInvalidCode = errors.New("invalid referral code")
	// ErrAlreadyReferred is returned when the user already has a referral record.
	ErrAlreadyReferred = errors.New("user already referred")
	// ErrNotFound is returned when no matching referral exists.
	ErrNotFound = errors.New("referral not found")
)

// codePrefix marks personal referral codes. The rest of the code is the
// referrer's user id in base36, uppercased for sharing.
const codePrefix = "RF-"

// Referral records one referrer/referred relationship within a tenant.
type Referral struct {
	ID             int64
	TenantID       int64
	ReferrerID     int64
	ReferredID     int64
	Code           string
	Status         Status
	ReferrerPoints int64
	ReferredPoints int64
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// Repository persists referral records.
type Repository interface {
	// Create inserts a new referral. Returns ErrAlreadyReferred when the
	// referred user already has a record (enforced by a unique constraint,
	// so concurrent redemptions cannot both succeed).
	Create(ctx context.Context, r *Referral) error
	// GetByID returns the referral within the tenant, or ErrNotFound.
	GetByID(ctx context.Context, tenantID, id int64) (*Referral, error)
	// FindPendingByReferred returns the pending referral for the referred
	// user within the tenant, or ErrNotFound.
	FindPendingByReferred(ctx context.Context, tenantID, referredID int64) (*Referral, error)
	// MarkRewarded flips pending → rewarded and stamps the completion time.
	// Returns false when the referral was not pending (already processed).
	MarkRewarded(ctx context.Context, id int64, at time.Time) (applied bool, err error)
	// ListByReferrer returns all referrals the user originated in the tenant.
	ListByReferrer(ctx context.Context, tenantID, referrerID int64) ([]Referral, error)
}

// MakeCode builds the personal referral code for a user.
func MakeCode(userID int64) string {
	return codePrefix + strings.ToUpper(strconv.FormatInt(userID, 36))
}

// ParseCode extracts the referrer's user id from a personal code.
func ParseCode(code string) (int64, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(code), codePrefix)
	if !ok || raw == "" {
		return 0, ErrInvalidCode
	}
	id, err := strconv.ParseInt(strings.ToLower(raw), 36, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidCode
	}
	return id, nil
}
