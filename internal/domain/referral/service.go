package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/openmart/storefront-core/internal/domain/loyalty"
)

// Rewards holds the configured point amounts paid out per completed referral.
// These are business parameters, not derived here.
type Rewards struct {
	ReferrerPoints int64
	ReferredPoints int64
}

// Service implements referral redemption and reward payout.
type Service struct {
	repo    Repository
	ledger  *loyalty.Service
	rewards Rewards
	now     func() time.Time
}

// NewService creates a referral Service. The loyalty service receives the
// reward credits when a referral completes.
func NewService(repo Repository, ledger *loyalty.Service, rewards Rewards) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		rewards: rewards,
		now:     time.Now,
	}
}

// RedeemCode records that newUserID joined the tenant through the given
// personal code. Fails with ErrInvalidCode for unparseable or self-referential
// codes and ErrAlreadyReferred when the user already has a referral record.
func (s *Service) RedeemCode(ctx context.Context, tenantID int64, code string, newUserID int64) (*Referral, error) {
	referrerID, err := ParseCode(code)
	if err != nil {
		return nil, err
	}
	if referrerID == newUserID {
		return nil, ErrInvalidCode
	}

	r := &Referral{
		TenantID:       tenantID,
		ReferrerID:     referrerID,
		ReferredID:     newUserID,
		Code:           code,
		Status:         StatusPending,
		ReferrerPoints: s.rewards.ReferrerPoints,
		ReferredPoints: s.rewards.ReferredPoints,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		if errors.Is(err, ErrAlreadyReferred) {
			return nil, ErrAlreadyReferred
		}
		return nil, errors.Wrap(err, "create referral")
	}
	return r, nil
}

// Complete pays out a referral after the referred user's first delivered
// order. It is safe to call more than once: the status flip is a conditional
// update and both credits carry referral-derived idempotency keys, so
// re-entry credits nothing twice. The credits are issued even when the flip
// was already done, which lets a retry heal a crash between flip and payout.
func (s *Service) Complete(ctx context.Context, tenantID, referralID int64) error {
	r, err := s.repo.GetByID(ctx, tenantID, referralID)
	if err != nil {
		return err
	}

	if r.Status == StatusPending {
		if _, err := s.repo.MarkRewarded(ctx, r.ID, s.now()); err != nil {
			return errors.Wrap(err, "mark referral rewarded")
		}
	}

	credits := []struct {
		userID int64
		points int64
		side   string
	}{
		{r.ReferrerID, r.ReferrerPoints, "referrer"},
		{r.ReferredID, r.ReferredPoints, "referred"},
	}
	for _, c := range credits {
		if c.points == 0 {
			continue
		}
		_, err := s.ledger.AddPoints(ctx, loyalty.AddPointsParams{
			TenantID:       r.TenantID,
			UserID:         c.userID,
			Delta:          c.points,
			Type:           loyalty.TypeBonus,
			Description:    fmt.Sprintf("referral reward (%s)", c.side),
			IdempotencyKey: fmt.Sprintf("referral:%d:%s", r.ID, c.side),
		})
		if err != nil {
			return errors.Wrapf(err, "credit %s", c.side)
		}
	}
	return nil
}

// CompleteForReferred settles the referred user's pending referral after
// their first delivered order. A user without a pending referral is not an
// error; most customers were never referred.
func (s *Service) CompleteForReferred(ctx context.Context, tenantID, referredID int64) error {
	r, err := s.repo.FindPendingByReferred(ctx, tenantID, referredID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "find pending referral")
	}
	return s.Complete(ctx, tenantID, r.ID)
}

// Summary aggregates a user's referral activity within a tenant.
type Summary struct {
	Code      string
	Total     int
	Pending   int
	Rewarded  int
	Referrals []Referral
}

// SummaryFor returns the user's personal code and referral counts.
func (s *Service) SummaryFor(ctx context.Context, tenantID, userID int64) (*Summary, error) {
	refs, err := s.repo.ListByReferrer(ctx, tenantID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list referrals")
	}

	sum := &Summary{
		Code:      MakeCode(userID),
		Total:     len(refs),
		Referrals: refs,
	}
	for _, r := range refs {
		switch r.Status {
		case StatusPending:
			sum.Pending++
		case StatusRewarded:
			sum.Rewarded++
		}
	}
	return sum, nil
}
