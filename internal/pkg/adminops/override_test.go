package adminops

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// fakeBackend implements repository.UserRepository and credits.Store over a
// single in-memory map so the service and ledger see the same rows.
type fakeBackend struct {
	mu     sync.Mutex
	users  map[uint]*models.User
	txns   []*models.CreditTransaction
	nextID uint

	// onFind fires once after an id lookup returns, between the service's
	// read and its subsequent write.
	onFind func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{users: map[uint]*models.User{}, nextID: 1}
}

func (f *fakeBackend) add(u models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	cp := u
	f.users[cp.ID] = &cp
	return &cp
}

func (f *fakeBackend) Create(u *models.User) error {
	f.add(*u)
	return nil
}

func (f *fakeBackend) GetByID(id uint) (*models.User, error) {
	f.mu.Lock()
	u, ok := f.users[id]
	var cp models.User
	if ok {
		cp = *u
	}
	hook := f.onFind
	f.onFind = nil
	f.mu.Unlock()

	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (f *fakeBackend) GetByEmail(email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBackend) GetByExternalID(string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBackend) GetByStripeCustomerID(string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBackend) GetByStripeSubscriptionID(string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeBackend) GetOrCreateByExternalID(externalID, email, name string) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}

// UpdateSubscriptionState merges only the subscription columns, mirroring
// the column-scoped write of the real repository.
func (f *fakeBackend) UpdateSubscriptionState(u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[u.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.SubscriptionStatus = u.SubscriptionStatus
	stored.SubscriptionPlan = u.SubscriptionPlan
	stored.StripeCustomerID = u.StripeCustomerID
	stored.StripeSubscriptionID = u.StripeSubscriptionID
	stored.CurrentPeriodStart = u.CurrentPeriodStart
	stored.CurrentPeriodEnd = u.CurrentPeriodEnd
	stored.TrialStartDate = u.TrialStartDate
	stored.TrialEndDate = u.TrialEndDate
	return nil
}

func (f *fakeBackend) List(int, int) ([]models.User, error) { return nil, nil }
func (f *fakeBackend) Count() (int64, error)                { return 0, nil }

func (f *fakeBackend) UpdateBalance(_ context.Context, userID uint, fn credits.MutateFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *u
	txn, mutated, err := fn(&cp)
	if err != nil {
		return err
	}
	if mutated {
		f.users[userID] = &cp
		if txn != nil {
			f.txns = append(f.txns, txn)
		}
	}
	return nil
}

func (f *fakeBackend) GetUser(_ context.Context, userID uint) (*models.User, error) {
	return f.GetByID(userID)
}

type OverrideTestSuite struct {
	suite.Suite

	backend *fakeBackend
	svc     *Service
	audits  []auditRecord

	admin *models.User
	peer  *models.User
	civ   *models.User
}

func (s *OverrideTestSuite) SetupTest() {
	s.backend = newFakeBackend()
	s.audits = nil

	s.admin = s.backend.add(models.User{Email: "root@quaestor.app", SubscriptionStatus: models.SubscriptionFree})
	s.peer = s.backend.add(models.User{Email: "ops@quaestor.app", SubscriptionStatus: models.SubscriptionFree})
	s.civ = s.backend.add(models.User{Email: "reader@example.com", SubscriptionStatus: models.SubscriptionFree})

	allow := NewAllowlist([]string{"root@quaestor.app", "ops@quaestor.app"})
	s.svc = NewService(s.backend, credits.NewLedger(s.backend), allow)
	s.svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	s.svc.auditSink = func(record string) {
		var rec auditRecord
		s.Require().NoError(json.Unmarshal([]byte(record), &rec))
		s.audits = append(s.audits, rec)
	}
}

func (s *OverrideTestSuite) actor() Actor {
	return Actor{Email: s.admin.Email, Origin: "203.0.113.7"}
}

func (s *OverrideTestSuite) TestNonAdminRejected() {
	_, err := s.svc.Override(context.Background(), Actor{Email: "reader@example.com"}, OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionActive,
	})
	s.ErrorIs(err, ErrNotAdmin)
	s.Empty(s.audits)
}

func (s *OverrideTestSuite) TestEmptyAllowlistFailsClosed() {
	s.svc.allowlist = NewAllowlist(nil)
	_, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionActive,
	})
	s.ErrorIs(err, ErrNotAdmin)
}

func (s *OverrideTestSuite) TestListedButUnprovisionedActorRejected() {
	allow := NewAllowlist([]string{"ghost@quaestor.app"})
	svc := NewService(s.backend, credits.NewLedger(s.backend), allow)
	_, err := svc.Override(context.Background(), Actor{Email: "ghost@quaestor.app"}, OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionActive,
	})
	s.ErrorIs(err, ErrNotAdmin)
}

func (s *OverrideTestSuite) TestActivateFromFreeGrantsDefaultAllowance() {
	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionActive,
	})
	s.Require().NoError(err)

	s.Equal(models.SubscriptionActive, snap.SubscriptionStatus)
	s.Equal(credits.DefaultPaidPlan, snap.SubscriptionPlan)
	s.Equal(credits.AllowanceFor(credits.DefaultPaidPlan), snap.MonthlyCredits)
	s.NotNil(snap.CurrentPeriodStart)
	s.NotNil(snap.CurrentPeriodEnd)

	s.Require().Len(s.backend.txns, 1)
	s.Equal(models.TransactionAdminAdjustment, s.backend.txns[0].Type)
}

func (s *OverrideTestSuite) TestTrialingOpensTrialWindow() {
	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		Email: s.civ.Email,
		Tier:  models.SubscriptionTrialing,
	})
	s.Require().NoError(err)
	s.Equal(models.SubscriptionTrialing, snap.SubscriptionStatus)
	s.Require().NotNil(snap.TrialEndDate)
	s.Equal(s.svc.now().AddDate(0, 0, defaultTrialDays), *snap.TrialEndDate)
}

func (s *OverrideTestSuite) TestExplicitCreditsWinOverDefaults() {
	monthly := int64(42)
	bonus := int64(7)
	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID:         s.civ.ID,
		Tier:           models.SubscriptionActive,
		MonthlyCredits: &monthly,
		BonusCredits:   &bonus,
	})
	s.Require().NoError(err)
	s.Equal(int64(42), snap.MonthlyCredits)
	s.Equal(int64(7), snap.BonusCredits)
}

func (s *OverrideTestSuite) TestDowngradeToFreeZeroesMonthly() {
	_, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionActive,
	})
	s.Require().NoError(err)

	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionFree,
	})
	s.Require().NoError(err)
	s.Equal(models.SubscriptionFree, snap.SubscriptionStatus)
	s.Empty(snap.SubscriptionPlan)
	s.Zero(snap.MonthlyCredits)
}

func (s *OverrideTestSuite) TestCancelKeepsBalancesUntouched() {
	monthly := int64(80)
	_, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID:         s.civ.ID,
		Tier:           models.SubscriptionActive,
		MonthlyCredits: &monthly,
	})
	s.Require().NoError(err)

	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionCanceled,
	})
	s.Require().NoError(err)
	s.Equal(models.SubscriptionCanceled, snap.SubscriptionStatus)
	s.Equal(int64(80), snap.MonthlyCredits)
}

func (s *OverrideTestSuite) TestCannotOverrideAnotherAdmin() {
	_, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.peer.ID,
		Tier:   models.SubscriptionActive,
	})
	s.ErrorIs(err, ErrProtectedTarget)
	s.Empty(s.audits)

	unchanged, getErr := s.backend.GetByID(s.peer.ID)
	s.Require().NoError(getErr)
	s.Equal(models.SubscriptionFree, unchanged.SubscriptionStatus)
}

func (s *OverrideTestSuite) TestAdminMayOverrideOwnAccount() {
	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.admin.ID,
		Tier:   models.SubscriptionActive,
	})
	s.Require().NoError(err)
	s.Equal(models.SubscriptionActive, snap.SubscriptionStatus)
}

func (s *OverrideTestSuite) TestUnknownTargetAndBadTier() {
	_, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		Email: "nobody@example.com",
		Tier:  models.SubscriptionActive,
	})
	s.ErrorIs(err, ErrTargetNotFound)

	_, err = s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   "platinum",
	})
	s.ErrorIs(err, ErrInvalidTier)

	// past_due is a processor-owned state, not an override target
	_, err = s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionPastDue,
	})
	s.ErrorIs(err, ErrInvalidTier)
}

func (s *OverrideTestSuite) TestAuditRecordWrittenOnSuccess() {
	monthly := int64(55)
	_, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID:         s.civ.ID,
		Tier:           models.SubscriptionActive,
		MonthlyCredits: &monthly,
	})
	s.Require().NoError(err)

	s.Require().Len(s.audits, 1)
	rec := s.audits[0]
	s.Equal("root@quaestor.app", rec.ActorEmail)
	s.Equal("reader@example.com", rec.TargetEmail)
	s.Equal("203.0.113.7", rec.Origin)
	s.Equal(models.SubscriptionFree, rec.BeforeStatus)
	s.Equal(models.SubscriptionActive, rec.AfterStatus)
	s.Equal(int64(0), rec.BeforeMonthly)
	s.Equal(int64(55), rec.AfterMonthly)
}

func (s *OverrideTestSuite) TestOverrideDoesNotRevertConcurrentGrant() {
	s.civ = s.backend.add(models.User{
		Email:              "buyer@example.com",
		SubscriptionStatus: models.SubscriptionActive,
		SubscriptionPlan:   credits.DefaultPaidPlan,
		MonthlyCredits:     60,
		BonusCredits:       30,
	})
	ledger := credits.NewLedger(s.backend)

	// A purchase lands between the override's target read and its write.
	s.backend.onFind = func() {
		_, err := ledger.Grant(context.Background(), s.civ.ID, 5, models.TransactionOveragePurchase, "credit purchase")
		s.Require().NoError(err)
	}

	snap, err := s.svc.Override(context.Background(), s.actor(), OverrideRequest{
		UserID: s.civ.ID,
		Tier:   models.SubscriptionCanceled,
	})
	s.Require().NoError(err)
	s.Equal(models.SubscriptionCanceled, snap.SubscriptionStatus)
	s.Equal(int64(35), snap.BonusCredits, "grant during the override must survive the state write")
	s.Equal(int64(60), snap.MonthlyCredits)
}

func (s *OverrideTestSuite) TestSnapshotLookup() {
	snap, err := s.svc.Snapshot(context.Background(), 0, s.civ.Email)
	s.Require().NoError(err)
	s.Equal(s.civ.ID, snap.UserID)

	_, err = s.svc.Snapshot(context.Background(), 0, "nobody@example.com")
	s.ErrorIs(err, ErrTargetNotFound)
}

func TestOverrideTestSuite(t *testing.T) {
	suite.Run(t, new(OverrideTestSuite))
}
