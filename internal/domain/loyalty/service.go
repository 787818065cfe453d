package loyalty

import (
	"context"

	"github.com/go-faster/errors"
)

// Service wraps the ledger with input validation. Crediting and debiting both
// go through AddPoints; the sign of the delta decides which.
type Service struct {
	repo Repository
}

// NewService creates a loyalty Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AddPointsParams describes one ledger append.
type AddPointsParams struct {
	TenantID    int64
	UserID      int64
	Delta       int64
	Type        TransactionType
	Description string
	OrderID     *int64
	// IdempotencyKey must identify the (subject, reason) pair, e.g.
	// "order:123:earned". Required for every append.
	IdempotencyKey string
}

// AddPoints appends a ledger transaction and updates the cached balance
// atomically. Re-invoking with the same idempotency key is a no-op and
// returns applied=false.
func (s *Service) AddPoints(ctx context.Context, p AddPointsParams) (applied bool, err error) {
	if p.Delta == 0 {
		return false, ErrZeroDelta
	}
	switch p.Type {
	case TypeEarned, TypeSpent, TypeExpired, TypeRefund, TypeBonus:
	default:
		return false, ErrUnknownType
	}
	if p.IdempotencyKey == "" {
		return false, ErrMissingKey
	}

	applied, err = s.repo.Append(ctx, Transaction{
		UserID:         p.UserID,
		TenantID:       p.TenantID,
		Points:         p.Delta,
		Type:           p.Type,
		Description:    p.Description,
		OrderID:        p.OrderID,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		return false, errors.Wrap(err, "append loyalty transaction")
	}
	return applied, nil
}

// GetBalance returns the cached balance for the pair.
func (s *Service) GetBalance(ctx context.Context, tenantID, userID int64) (*Points, error) {
	return s.repo.GetBalance(ctx, tenantID, userID)
}

// History returns the pair's ledger entries, newest first.
func (s *Service) History(ctx context.Context, tenantID, userID int64) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, tenantID, userID)
}
