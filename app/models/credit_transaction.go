package models

import "time"

// Credit transaction types. Negative amounts consume, positive amounts grant.
const (
	TransactionSearchUsage      = "search_usage"
	TransactionReportGeneration = "report_generation"
	TransactionMonthlyReset     = "monthly_reset"
	TransactionOveragePurchase  = "overage_purchase"
	TransactionAdminAdjustment  = "admin_adjustment"
)

// CreditTransaction is an append-only audit record of a balance change. The
// user row stays the source of truth for the balance itself; these rows exist
// for reconciliation and are never updated or deleted.
type CreditTransaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Reference   string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"reference"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Type        string    `gorm:"type:varchar(50);not null;index" json:"type"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// ValidTransactionType reports whether t is a known ledger entry type.
func ValidTransactionType(t string) bool {
	switch t {
	case TransactionSearchUsage, TransactionReportGeneration, TransactionMonthlyReset,
		TransactionOveragePurchase, TransactionAdminAdjustment:
		return true
	default:
		return false
	}
}
