package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Subscription status values driven by the billing state machine.
const (
	SubscriptionFree     = "free"
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

type User struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	ExternalID           string         `gorm:"type:varchar(191);uniqueIndex;not null" json:"-"`
	Email                string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Name                 string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	SubscriptionStatus   string         `gorm:"type:varchar(20);not null;default:'free';index" json:"subscription_status" validate:"oneof=free trialing active canceled past_due"`
	SubscriptionPlan     string         `gorm:"type:varchar(50);default:null" json:"subscription_plan,omitempty"`
	MonthlyCredits       int64          `gorm:"not null;default:0" json:"monthly_credits"`
	BonusCredits         int64          `gorm:"not null;default:0" json:"bonus_credits"`
	CurrentPeriodStart   *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialStartDate       *time.Time     `gorm:"type:timestamp;default:null" json:"trial_start_date,omitempty"`
	TrialEndDate         *time.Time     `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	LastCreditReset      *time.Time     `gorm:"type:timestamp;default:null" json:"last_credit_reset,omitempty"`
	StripeCustomerID     string         `gorm:"type:varchar(191);default:null;index" json:"-"`
	StripeSubscriptionID string         `gorm:"type:varchar(191);default:null;index" json:"-"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewFreeUser builds an auto-provisioned user row for a first authenticated
// contact. Credits stay at zero until a subscription or admin grant arrives.
func NewFreeUser(externalID, email, name string) *User {
	return &User{
		ExternalID:         strings.TrimSpace(externalID),
		Email:              strings.ToLower(strings.TrimSpace(email)),
		Name:               strings.TrimSpace(name),
		SubscriptionStatus: SubscriptionFree,
	}
}

// TotalCredits returns the combined spendable balance.
func (u *User) TotalCredits() int64 {
	return u.MonthlyCredits + u.BonusCredits
}

// IsBillable reports whether deductions apply to this user. Free and lapsed
// accounts track usage as zero-cost instead.
func (u *User) IsBillable() bool {
	return u.SubscriptionStatus == SubscriptionActive || u.SubscriptionStatus == SubscriptionTrialing
}

// ValidSubscriptionStatus reports whether s is a known status value.
func ValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionFree, SubscriptionTrialing, SubscriptionActive, SubscriptionCanceled, SubscriptionPastDue:
		return true
	default:
		return false
	}
}
