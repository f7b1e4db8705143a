package repository

import (
	"time"

	"github.com/quaestor-app/quaestor/app/models"
	"gorm.io/gorm"
)

// transactionRepository implements the CreditTransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewCreditTransactionRepository creates a new transaction repository instance
func NewCreditTransactionRepository(db *gorm.DB) CreditTransactionRepository {
	return &transactionRepository{db: db}
}

// Create appends a ledger entry. Entries are immutable once written.
func (r *transactionRepository) Create(tx *models.CreditTransaction) error {
	return r.db.Create(tx).Error
}

// GetByUserID retrieves a paginated transaction history, newest first
func (r *transactionRepository) GetByUserID(userID uint, offset, limit int) ([]models.CreditTransaction, error) {
	var txs []models.CreditTransaction
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&txs).Error
	return txs, err
}

// CountByUserID returns the number of ledger entries for a user
func (r *transactionRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.CreditTransaction{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// SumByUserIDSince returns the net balance change recorded since a point in
// time, used for reconciliation against the user row.
func (r *transactionRepository) SumByUserIDSince(userID uint, since time.Time) (int64, error) {
	var sum int64
	err := r.db.Model(&models.CreditTransaction{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
