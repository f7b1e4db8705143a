package repository

import (
	"errors"
	"strings"

	"github.com/quaestor-app/quaestor/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByExternalID retrieves a user by their identity-provider subject
func (r *userRepository) GetByExternalID(externalID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByStripeCustomerID resolves a billing-processor customer to a local user
func (r *userRepository) GetByStripeCustomerID(customerID string) (*models.User, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	err := r.db.Where("stripe_customer_id = ?", customerID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByStripeSubscriptionID resolves a billing-processor subscription to a local user
func (r *userRepository) GetByStripeSubscriptionID(subscriptionID string) (*models.User, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreateByExternalID auto-provisions a free-tier user on first contact.
// Concurrent first requests for the same subject race on the unique index;
// the loser re-reads the winner's row.
func (r *userRepository) GetOrCreateByExternalID(externalID, email, name string) (*models.User, error) {
	user, err := r.GetByExternalID(externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := models.NewFreeUser(externalID, email, name)
	createErr := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(fresh).Error
	if createErr != nil {
		return nil, createErr
	}
	return r.GetByExternalID(externalID)
}

// UpdateSubscriptionState persists the subscription lifecycle fields with a
// column-scoped update. monthly_credits and bonus_credits are never written
// here; a Save of the whole row would race with the locked deduction path
// and resurrect spent credits.
func (r *userRepository) UpdateSubscriptionState(user *models.User) error {
	return r.db.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"subscription_status":    user.SubscriptionStatus,
		"subscription_plan":      user.SubscriptionPlan,
		"stripe_customer_id":     user.StripeCustomerID,
		"stripe_subscription_id": user.StripeSubscriptionID,
		"current_period_start":   user.CurrentPeriodStart,
		"current_period_end":     user.CurrentPeriodEnd,
		"trial_start_date":       user.TrialStartDate,
		"trial_end_date":         user.TrialEndDate,
	}).Error
}

// List retrieves a paginated list of users
func (r *userRepository) List(offset, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&users).Error
	return users, err
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
