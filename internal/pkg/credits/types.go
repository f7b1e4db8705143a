package credits

import (
	"context"

	"github.com/quaestor-app/quaestor/app/models"
)

// Store provides the atomic persistence operations the ledger needs. The
// balance mutation and its audit transaction must commit as one unit of work,
// with the user row locked for the duration of fn so concurrent mutations on
// the same user serialize.
type Store interface {
	// UpdateBalance runs fn with the user's row exclusively locked. When fn
	// reports a mutation, the updated user row and the returned transaction
	// (if any) are written atomically.
	UpdateBalance(ctx context.Context, userID uint, fn MutateFunc) error

	// GetUser reads a user without locking.
	GetUser(ctx context.Context, userID uint) (*models.User, error)
}

// MutateFunc inspects and optionally mutates a locked user row. It returns
// the transaction to append alongside the mutation, whether the row changed,
// and an error to abort the unit of work.
type MutateFunc func(u *models.User) (txn *models.CreditTransaction, mutated bool, err error)

// DeductOutcome reports the result of a deduction attempt. An unsatisfiable
// deduction is a normal outcome, not an error: Applied is false and Remaining
// carries the untouched balance for the caller's 402-equivalent response.
type DeductOutcome struct {
	Applied   bool
	Deducted  int64
	Remaining int64
}

// Balance is a point-in-time snapshot of a user's spendable credits.
type Balance struct {
	Monthly int64 `json:"monthly_credits"`
	Bonus   int64 `json:"bonus_credits"`
	Total   int64 `json:"total_credits"`
}
