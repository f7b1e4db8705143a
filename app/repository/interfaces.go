package repository

import (
	"time"

	"github.com/quaestor-app/quaestor/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByExternalID(externalID string) (*models.User, error)
	GetByStripeCustomerID(customerID string) (*models.User, error)
	GetByStripeSubscriptionID(subscriptionID string) (*models.User, error)
	GetOrCreateByExternalID(externalID, email, name string) (*models.User, error)
	// UpdateSubscriptionState persists subscription and processor-correlation
	// fields only. Balance columns are deliberately excluded: those change
	// exclusively through the credit store's locked update path, and a full
	// row Save here would silently revert a concurrently committed deduction.
	UpdateSubscriptionState(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// CreditTransactionRepository defines the interface for ledger audit records
type CreditTransactionRepository interface {
	Create(tx *models.CreditTransaction) error
	GetByUserID(userID uint, offset, limit int) ([]models.CreditTransaction, error)
	CountByUserID(userID uint) (int64, error)
	SumByUserIDSince(userID uint, since time.Time) (int64, error)
}

// WebhookEventRepository defines the interface for webhook dedupe records
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	// MarkProcessed stamps an event as successfully handled. MarkFailed only
	// records the failure reason and leaves processed_at NULL so the event
	// stays visible to ListUnprocessed and open for reprocessing.
	MarkProcessed(id uint) error
	MarkFailed(id uint, processingError string) error
	GetByProviderEventID(provider, eventID string) (*models.WebhookEvent, error)
	ListUnprocessed(limit int) ([]models.WebhookEvent, error)
}

// Repositories bundles all repository implementations
type Repositories struct {
	User         UserRepository
	Transactions CreditTransactionRepository
	WebhookEvent WebhookEventRepository
}
