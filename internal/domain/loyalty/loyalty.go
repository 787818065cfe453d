// Package loyalty implements the append-only point ledger and its cached
// per-user balance. The transaction rows are the source of truth; the balance
// row is an aggregate the repository reconciles with every append.
package loyalty

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// TransactionType enumerates the reasons points move.
type TransactionType string

const (
	TypeEarned  TransactionType = "earned"
	TypeSpent   TransactionType = "spent"
	TypeExpired TransactionType = "expired"
	TypeRefund  TransactionType = "refund"
	TypeBonus   TransactionType = "bonus"
)

var (
	// ErrZeroDelta is returned when a transaction would not move any points.
	ErrZeroDelta = errors.New("point delta must be non-zero")
	// ErrUnknownType is returned for a transaction type outside the enum.
	ErrUnknownType = errors.New("unknown transaction type")
	// ErrMissingKey is returned when a transaction carries no idempotency key.
	ErrMissingKey = errors.New("idempotency key required")
)

// Points is the cached balance row for one (user, tenant) pair.
// Invariant: Balance equals the sum of all transaction deltas for the pair.
type Points struct {
	UserID         int64
	TenantID       int64
	Balance        int64
	LifetimeEarned int64
	LifetimeSpent  int64
	UpdatedAt      time.Time
}

// Transaction is one ledger entry.
type Transaction struct {
	ID          int64
	UserID      int64
	TenantID    int64
	Points      int64
	Type        TransactionType
	Description string
	// OrderID links the entry to the order that caused it, when there is one.
	OrderID *int64
	// IdempotencyKey uniquely identifies the (subject, reason) pair. Appending
	// a second transaction with the same key is a no-op.
	IdempotencyKey string
	CreatedAt      time.Time
}

// Repository persists ledger entries and the cached balance.
type Repository interface {
	// Append inserts the transaction and updates the cached balance in one
	// atomic unit, creating the balance row if absent. It returns false
	// without error when the idempotency key was already used.
	Append(ctx context.Context, txn Transaction) (applied bool, err error)
	// GetBalance returns the cached balance row, or a zero-valued row when
	// the pair has no ledger history yet.
	GetBalance(ctx context.Context, tenantID, userID int64) (*Points, error)
	// ListTransactions returns the pair's ledger entries, newest first.
	ListTransactions(ctx context.Context, tenantID, userID int64) ([]Transaction, error)
}
