// Package subscription reconciles billing-processor events into local user
// subscription state. Every handler is safe to re-invoke: transitions are
// idempotent overwrites and monetary effects run through the credit ledger
// behind the webhook event dedupe marker.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/quaestor-app/quaestor/app/models"
	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/credits"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

// Service maps inbound processor events to user state transitions.
type Service struct {
	users     repository.UserRepository
	ledger    *credits.Ledger
	processor ProcessorClient

	// now is swappable for tests
	now func() time.Time
}

// NewService creates the state machine from its collaborators.
func NewService(users repository.UserRepository, ledger *credits.Ledger, processor ProcessorClient) *Service {
	return &Service{
		users:     users,
		ledger:    ledger,
		processor: processor,
		now:       time.Now,
	}
}

// ProcessEvent dispatches a verified processor event. Unrecognized event
// types are accepted and ignored; events that reference no local user are
// logged and dropped, since they may belong to another system sharing the
// processor account.
func (s *Service) ProcessEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.paid":
		return s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(ctx, event)
	default:
		log.Printf("subscription: ignoring event type %s", event.Type)
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("checkout session unmarshal: %w", err)
	}

	if sess.Mode == stripe.CheckoutSessionModePayment {
		return s.applyCreditPurchase(ctx, &sess)
	}
	return s.applySubscriptionCheckout(ctx, &sess)
}

// applyCreditPurchase grants bonus credits for a one-time payment session.
// The grant is an increment, so exactly-once protection comes from the
// webhook event marker recorded before processing.
func (s *Service) applyCreditPurchase(ctx context.Context, sess *stripe.CheckoutSession) error {
	creditsMeta := strings.TrimSpace(sess.Metadata["credits"])
	if creditsMeta == "" {
		log.Printf("subscription: payment session %s without credits metadata, ignoring", sess.ID)
		return nil
	}
	amount, err := strconv.ParseInt(creditsMeta, 10, 64)
	if err != nil || amount <= 0 {
		log.Printf("subscription: payment session %s carries bad credits metadata %q, ignoring", sess.ID, creditsMeta)
		return nil
	}

	user, err := s.resolveSessionUser(ctx, sess)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("subscription: payment session %s references no local user, dropping", sess.ID)
			return nil
		}
		return err
	}

	_, err = s.ledger.Grant(ctx, user.ID, amount, models.TransactionOveragePurchase,
		fmt.Sprintf("credit purchase via checkout %s", sess.ID))
	return err
}

func (s *Service) applySubscriptionCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	user, err := s.resolveSessionUser(ctx, sess)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("subscription: checkout session %s references no local user, dropping", sess.ID)
			return nil
		}
		return err
	}

	subID := ""
	if sess.Subscription != nil {
		subID = sess.Subscription.ID
	}
	if subID == "" {
		return fmt.Errorf("checkout session %s without subscription id", sess.ID)
	}

	info, err := s.processor.FetchSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("resolve checkout subscription: %w", err)
	}

	status := models.SubscriptionActive
	if MapProcessorStatus(info.Status) == models.SubscriptionTrialing {
		status = models.SubscriptionTrialing
	}

	user.SubscriptionStatus = status
	user.SubscriptionPlan = PlanForPriceID(info.PriceID)
	user.StripeSubscriptionID = subID
	if sess.Customer != nil && sess.Customer.ID != "" {
		user.StripeCustomerID = sess.Customer.ID
	}
	periodStart := info.CurrentPeriodStart
	periodEnd := info.CurrentPeriodEnd
	user.CurrentPeriodStart = &periodStart
	user.CurrentPeriodEnd = &periodEnd
	if status == models.SubscriptionTrialing {
		now := s.now()
		if user.TrialStartDate == nil {
			user.TrialStartDate = &now
		}
		user.TrialEndDate = info.TrialEnd
	}
	if err := s.users.UpdateSubscriptionState(user); err != nil {
		return err
	}

	_, err = s.ledger.ResetMonthly(ctx, user.ID, periodStart)
	return err
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("subscription unmarshal: %w", err)
	}

	user, err := s.resolveCustomerUser(sub.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("subscription: update for unknown customer, dropping")
			return nil
		}
		return err
	}

	user.SubscriptionStatus = MapProcessorStatus(string(sub.Status))
	user.StripeSubscriptionID = sub.ID
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0)
		user.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0)
		user.CurrentPeriodEnd = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		user.TrialEndDate = &t
	}
	return s.users.UpdateSubscriptionState(user)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("subscription unmarshal: %w", err)
	}

	user, err := s.resolveCustomerUser(sub.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("subscription: deletion for unknown customer, dropping")
			return nil
		}
		return err
	}

	// Idempotent overwrite: re-delivery lands on the same final state. The
	// transition zeroes the monthly balance, so it runs under the row lock
	// the deduction path takes; a plain row save here could resurrect
	// credits spent between the read above and the write.
	return s.ledger.OverwriteState(ctx, user.ID, func(u *models.User) {
		u.SubscriptionStatus = models.SubscriptionFree
		u.SubscriptionPlan = ""
		u.StripeSubscriptionID = ""
		u.CurrentPeriodStart = nil
		u.CurrentPeriodEnd = nil
		u.MonthlyCredits = 0
	})
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("invoice unmarshal: %w", err)
	}

	subID := ""
	if inv.Subscription != nil {
		subID = inv.Subscription.ID
	}
	if subID == "" {
		log.Printf("subscription: invoice %s without subscription, ignoring", inv.ID)
		return nil
	}

	user, err := s.users.GetByStripeSubscriptionID(subID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) && inv.Customer != nil {
			user, err = s.users.GetByStripeCustomerID(inv.Customer.ID)
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("subscription: invoice %s references no local user, dropping", inv.ID)
				return nil
			}
			return err
		}
	}

	info, err := s.processor.FetchSubscription(ctx, subID)
	if err != nil {
		return fmt.Errorf("resolve invoice subscription: %w", err)
	}

	user.SubscriptionStatus = MapProcessorStatus(info.Status)
	periodStart := info.CurrentPeriodStart
	periodEnd := info.CurrentPeriodEnd
	user.CurrentPeriodStart = &periodStart
	user.CurrentPeriodEnd = &periodEnd
	if err := s.users.UpdateSubscriptionState(user); err != nil {
		return err
	}

	_, err = s.ledger.ResetMonthly(ctx, user.ID, periodStart)
	return err
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("invoice unmarshal: %w", err)
	}

	user, err := s.resolveCustomerUser(inv.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("subscription: payment failure for unknown customer, dropping")
			return nil
		}
		return err
	}

	user.SubscriptionStatus = models.SubscriptionPastDue
	return s.users.UpdateSubscriptionState(user)
}

// resolveSessionUser finds the local user for a checkout session, preferring
// the customer id and falling back to the user_id metadata stamped into the
// session at creation time.
func (s *Service) resolveSessionUser(ctx context.Context, sess *stripe.CheckoutSession) (*models.User, error) {
	_ = ctx
	if sess.Customer != nil && sess.Customer.ID != "" {
		user, err := s.users.GetByStripeCustomerID(sess.Customer.ID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	idMeta := strings.TrimSpace(sess.Metadata["user_id"])
	if idMeta == "" {
		return nil, gorm.ErrRecordNotFound
	}
	id, err := strconv.ParseUint(idMeta, 10, 64)
	if err != nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.users.GetByID(uint(id))
}

func (s *Service) resolveCustomerUser(cust *stripe.Customer) (*models.User, error) {
	if cust == nil || cust.ID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return s.users.GetByStripeCustomerID(cust.ID)
}

// MapProcessorStatus remaps a Stripe subscription status to the local enum.
// Anything unknown falls back to free rather than failing the event.
func MapProcessorStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return models.SubscriptionTrialing
	case "active":
		return models.SubscriptionActive
	case "canceled":
		return models.SubscriptionCanceled
	case "past_due", "unpaid":
		return models.SubscriptionPastDue
	default:
		return models.SubscriptionFree
	}
}
