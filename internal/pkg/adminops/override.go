// Package adminops implements the privileged override path: direct
// tier/credit corrections by allow-listed operators, with a mandatory audit
// record and a self-protection rule between administrators.
package adminops

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"gorm.io/gorm"
)

var (
	ErrNotAdmin        = errors.New("adminops: caller is not an administrator")
	ErrProtectedTarget = errors.New("adminops: target is a protected administrator account")
	ErrTargetNotFound  = errors.New("adminops: target user not found")
	ErrInvalidTier     = errors.New("adminops: invalid tier value")
)

// OverrideRequest is the operator's desired state for a target user.
type OverrideRequest struct {
	UserID         uint   `json:"userId"`
	Email          string `json:"email" validate:"omitempty,email"`
	Tier           string `json:"tier" validate:"required,oneof=free trialing active canceled"`
	MonthlyCredits *int64 `json:"monthlyCredits" validate:"omitempty,gte=0"`
	BonusCredits   *int64 `json:"bonusCredits" validate:"omitempty,gte=0"`
}

// Actor identifies the verified caller applying an override.
type Actor struct {
	Email  string
	Origin string
}

// Snapshot is the subscription state returned by lookups and overrides.
type Snapshot struct {
	UserID             uint       `json:"userId"`
	Email              string     `json:"email"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	SubscriptionPlan   string     `json:"subscriptionPlan,omitempty"`
	MonthlyCredits     int64      `json:"monthlyCredits"`
	BonusCredits       int64      `json:"bonusCredits"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	TrialEndDate       *time.Time `json:"trialEndDate,omitempty"`
}

// auditRecord is the mandatory log entry for every successful override. It is
// the only record of manual intervention.
type auditRecord struct {
	ActorEmail    string    `json:"actor_email"`
	ActorUserID   uint      `json:"actor_user_id"`
	TargetEmail   string    `json:"target_email"`
	TargetUserID  uint      `json:"target_user_id"`
	Origin        string    `json:"origin"`
	BeforeStatus  string    `json:"before_status"`
	AfterStatus   string    `json:"after_status"`
	BeforeMonthly int64     `json:"before_monthly_credits"`
	AfterMonthly  int64     `json:"after_monthly_credits"`
	BeforeBonus   int64     `json:"before_bonus_credits"`
	AfterBonus    int64     `json:"after_bonus_credits"`
	Timestamp     time.Time `json:"timestamp"`
}

const defaultTrialDays = 14

// Service applies admin overrides.
type Service struct {
	users     repository.UserRepository
	ledger    *credits.Ledger
	allowlist Allowlist
	validate  *validator.Validate

	// now is swappable for tests
	now func() time.Time
	// auditSink is swappable for tests; defaults to the process log
	auditSink func(record string)
}

// NewService creates an admin override service.
func NewService(users repository.UserRepository, ledger *credits.Ledger, allowlist Allowlist) *Service {
	return &Service{
		users:     users,
		ledger:    ledger,
		allowlist: allowlist,
		validate:  validator.New(),
		now:       time.Now,
		auditSink: func(record string) { log.Printf("ADMIN_AUDIT %s", record) },
	}
}

// Snapshot returns the current subscription state of a user looked up by id
// or email.
func (s *Service) Snapshot(ctx context.Context, userID uint, email string) (*Snapshot, error) {
	_ = ctx
	target, err := s.findTarget(userID, email)
	if err != nil {
		return nil, err
	}
	return snapshotOf(target), nil
}

// ListUsers returns a page of account snapshots for the admin listing.
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]*Snapshot, error) {
	users, err := s.users.List(offset, limit)
	if err != nil {
		return nil, err
	}
	snaps := make([]*Snapshot, 0, len(users))
	for i := range users {
		snaps = append(snaps, snapshotOf(&users[i]))
	}
	return snaps, nil
}

// CountUsers returns the total number of accounts.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.users.Count()
}

// Override applies the requested tier and optional credit values to the
// target user. The caller must be an allow-listed administrator that itself
// resolves to a user row, and may not touch another administrator's account.
func (s *Service) Override(ctx context.Context, actor Actor, req OverrideRequest) (*Snapshot, error) {
	if s.allowlist.Empty() || !s.allowlist.Contains(actor.Email) {
		return nil, ErrNotAdmin
	}
	// Defense in depth: list membership alone is not enough, the caller must
	// exist as a provisioned user.
	actorUser, err := s.users.GetByEmail(actor.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAdmin
		}
		return nil, err
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, ErrInvalidTier
	}
	if !models.ValidSubscriptionStatus(req.Tier) || req.Tier == models.SubscriptionPastDue {
		return nil, ErrInvalidTier
	}

	target, err := s.findTarget(req.UserID, req.Email)
	if err != nil {
		return nil, err
	}

	// Self-protection: administrators may only override their own account,
	// never another administrator's. This blocks lockout chains.
	if s.allowlist.Contains(target.Email) && target.ID != actorUser.ID {
		return nil, ErrProtectedTarget
	}

	before := snapshotOf(target)
	priorStatus := target.SubscriptionStatus
	now := s.now()

	switch req.Tier {
	case models.SubscriptionActive, models.SubscriptionTrialing:
		target.SubscriptionStatus = req.Tier
		target.SubscriptionPlan = credits.DefaultPaidPlan
		if target.CurrentPeriodStart == nil {
			start := now
			end := now.AddDate(0, 1, 0)
			target.CurrentPeriodStart = &start
			target.CurrentPeriodEnd = &end
		}
		if req.Tier == models.SubscriptionTrialing && target.TrialStartDate == nil {
			trialStart := now
			trialEnd := now.AddDate(0, 0, defaultTrialDays)
			target.TrialStartDate = &trialStart
			target.TrialEndDate = &trialEnd
		}
	case models.SubscriptionFree, models.SubscriptionCanceled:
		target.SubscriptionStatus = req.Tier
		target.SubscriptionPlan = ""
	}
	if err := s.users.UpdateSubscriptionState(target); err != nil {
		return nil, err
	}

	monthly := req.MonthlyCredits
	bonus := req.BonusCredits
	if monthly == nil {
		switch {
		case req.Tier == models.SubscriptionFree:
			zero := int64(0)
			monthly = &zero
		case (req.Tier == models.SubscriptionActive || req.Tier == models.SubscriptionTrialing) &&
			priorStatus == models.SubscriptionFree:
			allowance := credits.AllowanceFor(credits.DefaultPaidPlan)
			monthly = &allowance
		}
	}
	if monthly != nil || bonus != nil {
		if _, err := s.ledger.SetBalances(ctx, target.ID, monthly, bonus, "admin tier override"); err != nil {
			return nil, err
		}
	}

	updated, err := s.users.GetByID(target.ID)
	if err != nil {
		return nil, err
	}
	after := snapshotOf(updated)

	s.writeAudit(auditRecord{
		ActorEmail:    actor.Email,
		ActorUserID:   actorUser.ID,
		TargetEmail:   updated.Email,
		TargetUserID:  updated.ID,
		Origin:        actor.Origin,
		BeforeStatus:  before.SubscriptionStatus,
		AfterStatus:   after.SubscriptionStatus,
		BeforeMonthly: before.MonthlyCredits,
		AfterMonthly:  after.MonthlyCredits,
		BeforeBonus:   before.BonusCredits,
		AfterBonus:    after.BonusCredits,
		Timestamp:     now,
	})

	return after, nil
}

func (s *Service) findTarget(userID uint, email string) (*models.User, error) {
	var (
		target *models.User
		err    error
	)
	switch {
	case userID != 0:
		target, err = s.users.GetByID(userID)
	case email != "":
		target, err = s.users.GetByEmail(email)
	default:
		return nil, ErrTargetNotFound
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return target, nil
}

func (s *Service) writeAudit(rec auditRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Printf("adminops: audit marshal failed: %v", err)
		return
	}
	s.auditSink(string(raw))
}

func snapshotOf(u *models.User) *Snapshot {
	return &Snapshot{
		UserID:             u.ID,
		Email:              u.Email,
		SubscriptionStatus: u.SubscriptionStatus,
		SubscriptionPlan:   u.SubscriptionPlan,
		MonthlyCredits:     u.MonthlyCredits,
		BonusCredits:       u.BonusCredits,
		CurrentPeriodStart: u.CurrentPeriodStart,
		CurrentPeriodEnd:   u.CurrentPeriodEnd,
		TrialEndDate:       u.TrialEndDate,
	}
}
