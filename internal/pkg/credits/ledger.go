// Package credits implements the credit ledger: atomic deduction, grants and
// monthly refills against a user's monthly and bonus balances, with an
// append-only transaction record for every change.
package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quaestor-app/quaestor/app/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount = errors.New("credits: amount must be positive")
	ErrInvalidType   = errors.New("credits: unknown transaction type")
)

// Ledger performs balance mutations through an injected store.
type Ledger struct {
	store Store

	// now is swappable for tests
	now func() time.Time
}

// NewLedger creates a ledger from an injected store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// NewLedgerFromDB creates a ledger backed by a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(NewStore(db))
}

// Deduct atomically consumes amount credits, monthly balance first and any
// remainder from bonus. Users outside active/trialing status short-circuit to
// a zero-cost success without touching the ledger. An insufficient balance
// leaves everything untouched and reports Applied=false.
func (l *Ledger) Deduct(ctx context.Context, userID uint, amount int64, txType, description string) (DeductOutcome, error) {
	if amount <= 0 {
		return DeductOutcome{}, ErrInvalidAmount
	}
	if !models.ValidTransactionType(txType) {
		return DeductOutcome{}, ErrInvalidType
	}

	var out DeductOutcome
	err := l.store.UpdateBalance(ctx, userID, func(u *models.User) (*models.CreditTransaction, bool, error) {
		if !u.IsBillable() {
			out = DeductOutcome{Applied: true, Deducted: 0, Remaining: u.TotalCredits()}
			return nil, false, nil
		}

		total := u.TotalCredits()
		if total < amount {
			out = DeductOutcome{Applied: false, Remaining: total}
			return nil, false, nil
		}

		fromMonthly := amount
		if fromMonthly > u.MonthlyCredits {
			fromMonthly = u.MonthlyCredits
		}
		u.MonthlyCredits -= fromMonthly
		u.BonusCredits -= amount - fromMonthly

		out = DeductOutcome{Applied: true, Deducted: amount, Remaining: u.TotalCredits()}
		return l.newTransaction(u.ID, -amount, txType, description), true, nil
	})
	if err != nil {
		return DeductOutcome{}, err
	}
	return out, nil
}

// Grant atomically adds amount to the bonus balance and appends a matching
// transaction. Used for overage purchases and manual adjustments.
func (l *Ledger) Grant(ctx context.Context, userID uint, amount int64, txType, description string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}
	if !models.ValidTransactionType(txType) {
		return Balance{}, ErrInvalidType
	}

	var bal Balance
	err := l.store.UpdateBalance(ctx, userID, func(u *models.User) (*models.CreditTransaction, bool, error) {
		u.BonusCredits += amount
		bal = snapshot(u)
		return l.newTransaction(u.ID, amount, txType, description), true, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// ResetMonthly refills the monthly balance to the user's current tier
// allowance, stamps the reset time with periodStart and records a
// monthly_reset transaction whose amount is the full allowance, not a delta.
// The refill applies regardless of the prior monthly value.
func (l *Ledger) ResetMonthly(ctx context.Context, userID uint, periodStart time.Time) (Balance, error) {
	var bal Balance
	err := l.store.UpdateBalance(ctx, userID, func(u *models.User) (*models.CreditTransaction, bool, error) {
		allowance := AllowanceFor(u.SubscriptionPlan)
		u.MonthlyCredits = allowance
		reset := periodStart
		u.LastCreditReset = &reset
		bal = snapshot(u)
		return l.newTransaction(u.ID, allowance, models.TransactionMonthlyReset, "monthly credit reset"), true, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// SetBalances applies explicit balance overrides. Nil pointers leave the
// respective balance untouched. One admin_adjustment transaction records the
// net change.
func (l *Ledger) SetBalances(ctx context.Context, userID uint, monthly, bonus *int64, description string) (Balance, error) {
	if monthly == nil && bonus == nil {
		u, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return Balance{}, err
		}
		return snapshot(u), nil
	}
	if (monthly != nil && *monthly < 0) || (bonus != nil && *bonus < 0) {
		return Balance{}, ErrInvalidAmount
	}

	var bal Balance
	err := l.store.UpdateBalance(ctx, userID, func(u *models.User) (*models.CreditTransaction, bool, error) {
		before := u.TotalCredits()
		if monthly != nil {
			u.MonthlyCredits = *monthly
		}
		if bonus != nil {
			u.BonusCredits = *bonus
		}
		bal = snapshot(u)
		delta := u.TotalCredits() - before
		return l.newTransaction(u.ID, delta, models.TransactionAdminAdjustment, description), true, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// OverwriteState runs fn against the exclusively locked user row and
// persists the result without appending a ledger entry. Entitlement
// transitions that must combine state fields with a balance overwrite (a
// subscription deletion zeroing the monthly balance) go through here so they
// serialize with concurrent deductions instead of racing a plain row save.
func (l *Ledger) OverwriteState(ctx context.Context, userID uint, fn func(u *models.User)) error {
	return l.store.UpdateBalance(ctx, userID, func(u *models.User) (*models.CreditTransaction, bool, error) {
		fn(u)
		return nil, true, nil
	})
}

// BalanceOf returns the current spendable balance for a user.
func (l *Ledger) BalanceOf(ctx context.Context, userID uint) (Balance, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return snapshot(u), nil
}

func (l *Ledger) newTransaction(userID uint, amount int64, txType, description string) *models.CreditTransaction {
	return &models.CreditTransaction{
		Reference:   uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   l.now(),
	}
}

func snapshot(u *models.User) Balance {
	return Balance{
		Monthly: u.MonthlyCredits,
		Bonus:   u.BonusCredits,
		Total:   u.TotalCredits(),
	}
}
